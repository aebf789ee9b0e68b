package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"kincore/internal/infra/persistence/memory"
	"kincore/pkg/domain"
)

type graphFixture struct {
	store *memory.Store
	graph *GraphService
	tree  domain.Tree
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	store := memory.NewStore()
	tree := seedTree(t, store)
	perms, err := NewPermissionService(store.Repositories().Trees)
	if err != nil {
		t.Fatalf("new permission service: %v", err)
	}
	graph, err := NewGraphService(store.Repositories(), perms)
	if err != nil {
		t.Fatalf("new graph service: %v", err)
	}
	return &graphFixture{store: store, graph: graph, tree: tree}
}

func (f *graphFixture) addPerson(t *testing.T, id, first, last string, gender domain.Gender) domain.Person {
	t.Helper()
	person, err := f.store.PutPerson(context.Background(), domain.Person{
		Base:      domain.Base{ID: id},
		TreeID:    f.tree.ID,
		FirstName: first,
		LastName:  last,
		Gender:    gender,
	})
	if err != nil {
		t.Fatalf("seed person %s: %v", id, err)
	}
	return person
}

func TestCreateRelationshipPermissionFirst(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ada", "Hall", domain.GenderFemale)
	// The pair does not exist; a denial must still be a permission error, not
	// a not-found, so graph shape never leaks to unauthorized callers.
	_, err := f.graph.CreateRelationship(context.Background(), f.tree.ID, "stranger", RelationshipInput{
		FromPersonID: "a", ToPersonID: "ghost", Type: domain.RelationshipSpouse,
	})
	var pe domain.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected permission error, got %v", err)
	}

	_, err = f.graph.CreateRelationship(context.Background(), f.tree.ID, "viewer", RelationshipInput{
		FromPersonID: "a", ToPersonID: "ghost", Type: domain.RelationshipSpouse,
	})
	if !errors.As(err, &pe) {
		t.Fatalf("viewer should be denied before existence checks, got %v", err)
	}
}

func TestCreateRelationshipValidation(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ada", "Hall", domain.GenderFemale)
	ctx := context.Background()

	_, err := f.graph.CreateRelationship(ctx, f.tree.ID, "editor", RelationshipInput{
		FromPersonID: "a", ToPersonID: "a", Type: domain.RelationshipSpouse,
	})
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("self relationship should fail validation, got %v", err)
	}

	_, err = f.graph.CreateRelationship(ctx, f.tree.ID, "editor", RelationshipInput{
		FromPersonID: "a", ToPersonID: "b", Type: domain.RelationshipType("cousin"),
	})
	if !errors.As(err, &ve) {
		t.Fatalf("unknown type should fail validation, got %v", err)
	}
}

func TestCreateRelationshipMissingPerson(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ada", "Hall", domain.GenderFemale)
	_, err := f.graph.CreateRelationship(context.Background(), f.tree.ID, "editor", RelationshipInput{
		FromPersonID: "a", ToPersonID: "ghost", Type: domain.RelationshipSibling,
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != domain.EntityPerson {
		t.Fatalf("expected person not-found, got %v", err)
	}
}

func TestCreateRelationshipTreeMismatch(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ada", "Hall", domain.GenderFemale)
	other, err := f.store.PutTree(context.Background(), domain.Tree{
		Base: domain.Base{ID: "t2"}, Name: "other", OwnerID: "owner",
	})
	if err != nil {
		t.Fatalf("seed tree: %v", err)
	}
	if _, err := f.store.PutPerson(context.Background(), domain.Person{
		Base: domain.Base{ID: "x"}, TreeID: other.ID, FirstName: "Xen", LastName: "Out",
	}); err != nil {
		t.Fatalf("seed person: %v", err)
	}

	_, err = f.graph.CreateRelationship(context.Background(), f.tree.ID, "editor", RelationshipInput{
		FromPersonID: "a", ToPersonID: "x", Type: domain.RelationshipSibling,
	})
	var bre domain.BusinessRuleError
	if !errors.As(err, &bre) || bre.Rule != domain.RuleTreeMismatch {
		t.Fatalf("expected tree mismatch, got %v", err)
	}
}

func TestCreateParentGenderTyping(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "dad", "Don", "Hall", domain.GenderMale)
	f.addPerson(t, "mom", "May", "Hall", domain.GenderFemale)
	f.addPerson(t, "guardian", "Gil", "Hall", domain.GenderOther)
	f.addPerson(t, "kid", "Kim", "Hall", domain.GenderUnknown)
	f.addPerson(t, "kid2", "Kai", "Hall", domain.GenderUnknown)
	ctx := context.Background()

	rel, err := f.graph.CreateParentRelationship(ctx, f.tree.ID, "editor", "dad", "kid")
	if err != nil {
		t.Fatalf("create father edge: %v", err)
	}
	if rel.Type != domain.RelationshipFather {
		t.Errorf("male parent should produce father edge, got %s", rel.Type)
	}

	rel, err = f.graph.CreateParentRelationship(ctx, f.tree.ID, "editor", "mom", "kid")
	if err != nil {
		t.Fatalf("create mother edge: %v", err)
	}
	if rel.Type != domain.RelationshipMother {
		t.Errorf("female parent should produce mother edge, got %s", rel.Type)
	}

	rel, err = f.graph.CreateParentRelationship(ctx, f.tree.ID, "editor", "guardian", "kid2")
	if err != nil {
		t.Fatalf("create parent edge: %v", err)
	}
	if rel.Type != domain.RelationshipParent {
		t.Errorf("other-gender parent should stay parent edge, got %s", rel.Type)
	}
}

func TestCreateParentMaxTwo(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "p1", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "p2", "Bob", "Hall", domain.GenderMale)
	f.addPerson(t, "p3", "Cat", "Hall", domain.GenderFemale)
	f.addPerson(t, "kid", "Kim", "Hall", domain.GenderUnknown)
	ctx := context.Background()

	for _, parent := range []string{"p1", "p2"} {
		if _, err := f.graph.CreateParentRelationship(ctx, f.tree.ID, "editor", parent, "kid"); err != nil {
			t.Fatalf("create parent %s: %v", parent, err)
		}
	}
	_, err := f.graph.CreateParentRelationship(ctx, f.tree.ID, "editor", "p3", "kid")
	var bre domain.BusinessRuleError
	if !errors.As(err, &bre) || bre.Rule != domain.RuleMaxParents {
		t.Fatalf("third parent should violate the two-parent cap, got %v", err)
	}
}

func TestCreateParentRejectsCycle(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "b", "Ben", "Hall", domain.GenderMale)
	f.addPerson(t, "c", "Cal", "Hall", domain.GenderMale)
	ctx := context.Background()

	// a -> b -> c, then closing c -> a would make a its own ancestor.
	if _, err := f.graph.CreateParentRelationship(ctx, f.tree.ID, "editor", "a", "b"); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if _, err := f.graph.CreateParentRelationship(ctx, f.tree.ID, "editor", "b", "c"); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	_, err := f.graph.CreateParentRelationship(ctx, f.tree.ID, "editor", "c", "a")
	var bre domain.BusinessRuleError
	if !errors.As(err, &bre) || bre.Rule != domain.RuleAcyclicLineage {
		t.Fatalf("expected lineage cycle rejection, got %v", err)
	}
}

func TestCreateSpouseMirrored(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "b", "Ben", "Hall", domain.GenderMale)
	ctx := context.Background()

	primary, err := f.graph.CreateSpouseRelationship(ctx, f.tree.ID, "editor", "a", "b", RelationshipInput{})
	if err != nil {
		t.Fatalf("create spouse: %v", err)
	}
	if primary.FromPersonID != "a" || primary.ToPersonID != "b" {
		t.Fatalf("primary edge direction wrong: %s->%s", primary.FromPersonID, primary.ToPersonID)
	}

	spouses, err := f.store.Repositories().Relationships.FindSpouses(ctx, "a")
	if err != nil {
		t.Fatalf("find spouses: %v", err)
	}
	if len(spouses) != 2 {
		t.Fatalf("expected mirrored pair, got %d edges", len(spouses))
	}
	var mirrored bool
	for _, edge := range spouses {
		if edge.FromPersonID == "b" && edge.ToPersonID == "a" {
			mirrored = true
		}
	}
	if !mirrored {
		t.Fatalf("mirror edge b->a missing")
	}
}

func TestCreateSpouseActiveConflict(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "b", "Ben", "Hall", domain.GenderMale)
	f.addPerson(t, "c", "Cal", "Hall", domain.GenderMale)
	ctx := context.Background()

	if _, err := f.graph.CreateSpouseRelationship(ctx, f.tree.ID, "editor", "a", "b", RelationshipInput{}); err != nil {
		t.Fatalf("first marriage: %v", err)
	}
	_, err := f.graph.CreateSpouseRelationship(ctx, f.tree.ID, "editor", "a", "c", RelationshipInput{})
	var bre domain.BusinessRuleError
	if !errors.As(err, &bre) || bre.Rule != domain.RuleActiveSpouse {
		t.Fatalf("second active marriage should be rejected, got %v", err)
	}
}

func TestCreateSpouseEndedMarriageAllowed(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "b", "Ben", "Hall", domain.GenderMale)
	f.addPerson(t, "c", "Cal", "Hall", domain.GenderMale)
	ctx := context.Background()

	if _, err := f.graph.CreateSpouseRelationship(ctx, f.tree.ID, "editor", "a", "b", RelationshipInput{}); err != nil {
		t.Fatalf("first marriage: %v", err)
	}
	ended := time.Date(1999, 4, 1, 0, 0, 0, 0, time.UTC)
	started := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	if _, err := f.graph.CreateSpouseRelationship(ctx, f.tree.ID, "editor", "a", "c", RelationshipInput{
		StartDate: &started,
		EndDate:   &ended,
	}); err != nil {
		t.Fatalf("historical marriage should be recordable, got %v", err)
	}
}

func TestCreateRelationshipDuplicate(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "b", "Ben", "Hall", domain.GenderMale)
	ctx := context.Background()

	if _, err := f.graph.CreateRelationship(ctx, f.tree.ID, "editor", RelationshipInput{
		FromPersonID: "a", ToPersonID: "b", Type: domain.RelationshipSibling,
	}); err != nil {
		t.Fatalf("first edge: %v", err)
	}
	// Any further edge between the pair is a duplicate, reversed included.
	_, err := f.graph.CreateRelationship(ctx, f.tree.ID, "editor", RelationshipInput{
		FromPersonID: "b", ToPersonID: "a", Type: domain.RelationshipSibling,
	})
	var bre domain.BusinessRuleError
	if !errors.As(err, &bre) || bre.Rule != domain.RuleDuplicateEdge {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestDeleteSpouseRemovesMirror(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "b", "Ben", "Hall", domain.GenderMale)
	ctx := context.Background()

	primary, err := f.graph.CreateSpouseRelationship(ctx, f.tree.ID, "editor", "a", "b", RelationshipInput{})
	if err != nil {
		t.Fatalf("create spouse: %v", err)
	}
	if err := f.graph.DeleteRelationship(ctx, primary.ID, "editor"); err != nil {
		t.Fatalf("delete spouse: %v", err)
	}
	remaining, err := f.store.Repositories().Relationships.FindSpouses(ctx, "a")
	if err != nil {
		t.Fatalf("find spouses: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("mirror should be deleted with the primary, %d edges remain", len(remaining))
	}
}

func TestDeleteRelationshipErrors(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "b", "Ben", "Hall", domain.GenderMale)
	ctx := context.Background()

	err := f.graph.DeleteRelationship(ctx, "ghost", "editor")
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != domain.EntityRelationship {
		t.Fatalf("expected relationship not-found, got %v", err)
	}

	rel, err := f.graph.CreateRelationship(ctx, f.tree.ID, "editor", RelationshipInput{
		FromPersonID: "a", ToPersonID: "b", Type: domain.RelationshipSibling,
	})
	if err != nil {
		t.Fatalf("create edge: %v", err)
	}
	err = f.graph.DeleteRelationship(ctx, rel.ID, "viewer")
	var pe domain.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("viewer should be denied deletion, got %v", err)
	}
}

func TestRetypeParentRelationships(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "p", "Pat", "Hall", domain.GenderMale)
	f.addPerson(t, "k1", "Kim", "Hall", domain.GenderUnknown)
	f.addPerson(t, "k2", "Kai", "Hall", domain.GenderUnknown)
	ctx := context.Background()

	for _, kid := range []string{"k1", "k2"} {
		if _, err := f.graph.CreateParentRelationship(ctx, f.tree.ID, "editor", "p", kid); err != nil {
			t.Fatalf("create parent edge: %v", err)
		}
	}
	auditBefore := len(f.store.AuditEntries())

	updated, err := f.graph.RetypeParentRelationships(ctx, "p", domain.GenderFemale, "editor")
	if err != nil {
		t.Fatalf("retype: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected both edges retyped, got %d", len(updated))
	}
	for _, edge := range updated {
		if edge.Type != domain.RelationshipMother {
			t.Errorf("edge %s should be mother, got %s", edge.ID, edge.Type)
		}
	}
	// One audit entry per retyped edge.
	if got := len(f.store.AuditEntries()) - auditBefore; got != 2 {
		t.Fatalf("expected 2 audit entries, got %d", got)
	}

	// Retyping to the same gender is a no-op.
	updated, err = f.graph.RetypeParentRelationships(ctx, "p", domain.GenderFemale, "editor")
	if err != nil {
		t.Fatalf("retype no-op: %v", err)
	}
	if len(updated) != 0 {
		t.Fatalf("no-op retype should update nothing, got %d", len(updated))
	}
}

func TestCreateRelationshipsForPersonPartialSuccess(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "new", "Ned", "Hall", domain.GenderMale)
	f.addPerson(t, "a", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "b", "Ben", "Hall", domain.GenderMale)
	ctx := context.Background()

	result, err := f.graph.CreateRelationshipsForPerson(ctx, f.tree.ID, "editor", "new", []RelationshipInput{
		{ToPersonID: "a", Type: domain.RelationshipSibling},
		{ToPersonID: "ghost", Type: domain.RelationshipSibling},
		{ToPersonID: "b", Type: domain.RelationshipSpouse},
	})
	if err != nil {
		t.Fatalf("batch create: %v", err)
	}
	if len(result.Created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(result.Created))
	}
	if len(result.Failures) != 1 || result.Failures[0].Index != 1 {
		t.Fatalf("expected failure at index 1, got %+v", result.Failures)
	}
	var nf domain.NotFoundError
	if !errors.As(result.Failures[0].Err, &nf) {
		t.Fatalf("failure should carry the underlying error, got %v", result.Failures[0].Err)
	}

	result, err = f.graph.CreateRelationshipsForPerson(ctx, f.tree.ID, "viewer", "new", nil)
	var pe domain.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("viewer batch should be denied outright, got %v", err)
	}
	if len(result.Created) != 0 {
		t.Fatalf("denied batch must create nothing")
	}
}

func TestAuditTrailOnCreate(t *testing.T) {
	f := newGraphFixture(t)
	f.addPerson(t, "a", "Ann", "Hall", domain.GenderFemale)
	f.addPerson(t, "b", "Ben", "Hall", domain.GenderMale)
	ctx := context.Background()

	rel, err := f.graph.CreateRelationship(ctx, f.tree.ID, "editor", RelationshipInput{
		FromPersonID: "a", ToPersonID: "b", Type: domain.RelationshipSibling,
	})
	if err != nil {
		t.Fatalf("create edge: %v", err)
	}
	entries := f.store.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Actor != "editor" || entry.Action != domain.AuditCreate || entry.EntityID != rel.ID {
		t.Fatalf("audit entry mismatch: %+v", entry)
	}
}
