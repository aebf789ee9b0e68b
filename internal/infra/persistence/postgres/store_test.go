package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"kincore/internal/infra/persistence/postgres/testutil"
	"kincore/pkg/domain"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore("postgres://stub")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, conn
}

func TestNewStoreRequiresDSN(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatalf("empty dsn should fail")
	}
}

func TestMutationsPersistBuckets(t *testing.T) {
	store, conn := newStubStore(t)
	ctx := context.Background()

	if _, err := store.PutTree(ctx, domain.Tree{Base: domain.Base{ID: "t1"}, Name: "family", OwnerID: "owner"}); err != nil {
		t.Fatalf("put tree: %v", err)
	}
	rel := &domain.Relationship{
		Base: domain.Base{ID: "r1"}, TreeID: "t1", FromPersonID: "a", ToPersonID: "b", Type: domain.RelationshipSpouse,
	}
	if err := store.Repositories().Relationships.Create(ctx, rel); err != nil {
		t.Fatalf("create relationship: %v", err)
	}

	payload, ok := conn.BucketPayload("trees")
	if !ok {
		t.Fatalf("trees bucket never written")
	}
	var trees map[string]domain.Tree
	if err := json.Unmarshal(payload, &trees); err != nil {
		t.Fatalf("decode trees: %v", err)
	}
	if trees["t1"].Name != "family" {
		t.Fatalf("tree payload wrong: %+v", trees)
	}

	payload, ok = conn.BucketPayload("relationships")
	if !ok {
		t.Fatalf("relationships bucket never written")
	}
	var rels map[string]domain.Relationship
	if err := json.Unmarshal(payload, &rels); err != nil {
		t.Fatalf("decode relationships: %v", err)
	}
	if rels["r1"].Type != domain.RelationshipSpouse {
		t.Fatalf("relationship payload wrong: %+v", rels)
	}
}

func TestLoadHydratesFromBuckets(t *testing.T) {
	db, conn := testutil.NewStubDB()
	seed, _ := json.Marshal(map[string]domain.Person{
		"p1": {Base: domain.Base{ID: "p1"}, TreeID: "t1", FirstName: "Ann", LastName: "Hall"},
	})
	conn.SetBucket("persons", seed)
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("postgres://stub")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	person, err := store.Repositories().Persons.FindByID(context.Background(), "p1")
	if err != nil || person == nil || person.FirstName != "Ann" {
		t.Fatalf("seeded person not hydrated: %+v err=%v", person, err)
	}
}

func TestPersistFailureSurfaces(t *testing.T) {
	store, conn := newStubStore(t)
	conn.FailBegin = true
	_, err := store.PutTree(context.Background(), domain.Tree{Base: domain.Base{ID: "t1"}, OwnerID: "owner"})
	if err == nil {
		t.Fatalf("persist failure should surface to the caller")
	}
}

func TestPingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("postgres://stub"); err == nil {
		t.Fatalf("ping failure should fail construction")
	}
}
