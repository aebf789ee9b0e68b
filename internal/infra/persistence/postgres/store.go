// Package postgres provides a PostgreSQL-backed repository set that mirrors
// the in-memory semantics and snapshots the full state after every mutation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"kincore/internal/infra/persistence/memory"
	"kincore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

// Store persists the in-memory state to a single PostgreSQL table as JSONB
// buckets. It snapshots the full state after every committed mutation.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

var pgBuckets = []string{"persons", "trees", "relationships", "audit"}

// sqlOpen is a seam for tests to substitute the driver.
var sqlOpen = sql.Open

// OverrideSQLOpen replaces the database opener for the duration of a test.
// The returned function restores the previous opener.
func OverrideSQLOpen(open func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	prev := sqlOpen
	sqlOpen = open
	return func() { sqlOpen = prev }
}

// NewStore connects to the PostgreSQL instance at dsn and hydrates the
// in-memory state from any existing snapshot.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	mem := memory.NewStore()
	s := &Store{Store: mem, db: db}
	if err := s.load(); err != nil {
		return nil, err
	}
	mem.SetAfterMutate(s.persist)
	return s, nil
}

// Repositories returns the repository views backed by this durable store.
func (s *Store) Repositories() domain.Repositories {
	return s.Store.Repositories()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var target any
		switch bucket {
		case "persons":
			target = &snap.Persons
		case "trees":
			target = &snap.Trees
		case "relationships":
			target = &snap.Relationships
		case "audit":
			target = &snap.Audit
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.Store.ImportState(snap)
	return nil
}

func (s *Store) persist(ctx context.Context, snap memory.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range pgBuckets {
		var data []byte
		switch bucket {
		case "persons":
			data, err = json.Marshal(snap.Persons)
		case "trees":
			data, err = json.Marshal(snap.Trees)
		case "relationships":
			data, err = json.Marshal(snap.Relationships)
		case "audit":
			data, err = json.Marshal(snap.Audit)
		}
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
			bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
