package core

import (
	"fmt"
	"io"
	"os"

	"kincore/internal/infra/persistence/memory"
	"kincore/internal/infra/persistence/postgres"
	"kincore/internal/infra/persistence/sqlite"
	"kincore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// RepositorySet bundles the repositories with the resources behind them.
type RepositorySet struct {
	domain.Repositories
	closer io.Closer
}

// Close releases the backing store, if any.
func (r RepositorySet) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// OpenRepositories selects a storage backend using environment variables.
// Defaults to sqlite when unset.
//
//	KINCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	KINCORE_SQLITE_PATH: path to sqlite file (default ./kincore.db)
//	KINCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenRepositories() (RepositorySet, error) {
	driver := os.Getenv("KINCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return RepositorySet{Repositories: memory.NewStore().Repositories()}, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(os.Getenv("KINCORE_SQLITE_PATH"))
		if err != nil {
			return RepositorySet{}, err
		}
		return RepositorySet{Repositories: store.Repositories(), closer: store}, nil
	case StoragePostgres:
		store, err := postgres.NewStore(os.Getenv("KINCORE_POSTGRES_DSN"))
		if err != nil {
			return RepositorySet{}, err
		}
		return RepositorySet{Repositories: store.Repositories(), closer: store}, nil
	default:
		return RepositorySet{}, fmt.Errorf("unknown storage driver %s", driver)
	}
}
