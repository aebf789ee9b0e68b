// Package memory provides an in-memory implementation of the kincore
// repository set used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"kincore/pkg/domain"
)

// Store holds the full repository state behind a single lock. All four
// repository interfaces are served by views over the same store, so the
// graph and audit data stay mutually consistent.
type Store struct {
	mu    sync.RWMutex
	state state

	// afterMutate runs after every committed mutation while the lock is
	// still held, receiving the freshly exported snapshot. Durable
	// backends use it to persist state without re-acquiring the lock.
	afterMutate func(ctx context.Context, snap Snapshot) error
}

type state struct {
	persons       map[string]domain.Person
	trees         map[string]domain.Tree
	relationships map[string]domain.Relationship
	audit         []domain.AuditEntry
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Persons       map[string]domain.Person       `json:"persons"`
	Trees         map[string]domain.Tree         `json:"trees"`
	Relationships map[string]domain.Relationship `json:"relationships"`
	Audit         []domain.AuditEntry            `json:"audit"`
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{state: newState()}
}

func newState() state {
	return state{
		persons:       make(map[string]domain.Person),
		trees:         make(map[string]domain.Tree),
		relationships: make(map[string]domain.Relationship),
	}
}

// SetAfterMutate installs a hook invoked after each committed mutation.
// Intended for durable wrappers; must be called before the store is shared.
func (s *Store) SetAfterMutate(fn func(ctx context.Context, snap Snapshot) error) {
	s.afterMutate = fn
}

// Repositories returns the four repository views over this store.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Persons:       &personRepo{s},
		Trees:         &treeRepo{s},
		Relationships: &relationshipRepo{s},
		Audit:         &auditRepo{s},
	}
}

// PutPerson inserts or replaces a person record.
func (s *Store) PutPerson(ctx context.Context, person domain.Person) (domain.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if person.ID == "" {
		person.ID = generateID("per")
	}
	now := time.Now().UTC()
	if person.CreatedAt.IsZero() {
		person.CreatedAt = now
	}
	person.UpdatedAt = now
	s.state.persons[person.ID] = clonePerson(person)
	if err := s.mutated(ctx); err != nil {
		return domain.Person{}, err
	}
	return person, nil
}

// PutTree inserts or replaces a tree record.
func (s *Store) PutTree(ctx context.Context, tree domain.Tree) (domain.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tree.ID == "" {
		tree.ID = generateID("tree")
	}
	now := time.Now().UTC()
	if tree.CreatedAt.IsZero() {
		tree.CreatedAt = now
	}
	tree.UpdatedAt = now
	s.state.trees[tree.ID] = cloneTree(tree)
	if err := s.mutated(ctx); err != nil {
		return domain.Tree{}, err
	}
	return tree, nil
}

// AuditEntries returns a copy of the recorded audit trail in write order.
func (s *Store) AuditEntries() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEntry, len(s.state.audit))
	for i, entry := range s.state.audit {
		out[i] = cloneAudit(entry)
	}
	return out
}

// ExportState returns a deep-copied snapshot of the store.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportLocked()
}

func (s *Store) exportLocked() Snapshot {
	snap := Snapshot{
		Persons:       make(map[string]domain.Person, len(s.state.persons)),
		Trees:         make(map[string]domain.Tree, len(s.state.trees)),
		Relationships: make(map[string]domain.Relationship, len(s.state.relationships)),
		Audit:         make([]domain.AuditEntry, len(s.state.audit)),
	}
	for k, v := range s.state.persons {
		snap.Persons[k] = clonePerson(v)
	}
	for k, v := range s.state.trees {
		snap.Trees[k] = cloneTree(v)
	}
	for k, v := range s.state.relationships {
		snap.Relationships[k] = cloneRelationship(v)
	}
	for i, entry := range s.state.audit {
		snap.Audit[i] = cloneAudit(entry)
	}
	return snap
}

// ImportState replaces the store contents with the snapshot.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := newState()
	for k, v := range snap.Persons {
		next.persons[k] = clonePerson(v)
	}
	for k, v := range snap.Trees {
		next.trees[k] = cloneTree(v)
	}
	for k, v := range snap.Relationships {
		next.relationships[k] = cloneRelationship(v)
	}
	for _, entry := range snap.Audit {
		next.audit = append(next.audit, cloneAudit(entry))
	}
	s.state = next
}

func (s *Store) mutated(ctx context.Context) error {
	if s.afterMutate == nil {
		return nil
	}
	return s.afterMutate(ctx, s.exportLocked())
}

type personRepo struct{ store *Store }

func (r *personRepo) FindByID(_ context.Context, id string) (*domain.Person, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	person, ok := r.store.state.persons[id]
	if !ok {
		return nil, nil
	}
	cloned := clonePerson(person)
	return &cloned, nil
}

func (r *personRepo) FindByIDs(_ context.Context, ids []string) ([]domain.Person, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Person, 0, len(ids))
	for _, id := range ids {
		if person, ok := r.store.state.persons[id]; ok {
			out = append(out, clonePerson(person))
		}
	}
	return out, nil
}

func (r *personRepo) FindByTreeID(_ context.Context, treeID string) ([]domain.Person, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Person, 0)
	for _, person := range r.store.state.persons {
		if person.TreeID == treeID {
			out = append(out, clonePerson(person))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *personRepo) DeleteByTreeID(ctx context.Context, treeID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, person := range r.store.state.persons {
		if person.TreeID == treeID {
			delete(r.store.state.persons, id)
		}
	}
	return r.store.mutated(ctx)
}

type treeRepo struct{ store *Store }

func (r *treeRepo) FindByID(_ context.Context, id string) (*domain.Tree, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	tree, ok := r.store.state.trees[id]
	if !ok {
		return nil, nil
	}
	cloned := cloneTree(tree)
	return &cloned, nil
}

func (r *treeRepo) FindAll(_ context.Context) ([]domain.Tree, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Tree, 0, len(r.store.state.trees))
	for _, tree := range r.store.state.trees {
		out = append(out, cloneTree(tree))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type relationshipRepo struct{ store *Store }

func (r *relationshipRepo) FindByID(_ context.Context, id string) (*domain.Relationship, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rel, ok := r.store.state.relationships[id]
	if !ok {
		return nil, nil
	}
	cloned := cloneRelationship(rel)
	return &cloned, nil
}

func (r *relationshipRepo) FindByTreeID(_ context.Context, treeID string) ([]domain.Relationship, error) {
	return r.collect(func(rel domain.Relationship) bool {
		return rel.TreeID == treeID
	})
}

func (r *relationshipRepo) FindByPersonID(_ context.Context, personID string) ([]domain.Relationship, error) {
	return r.collect(func(rel domain.Relationship) bool {
		return rel.FromPersonID == personID || rel.ToPersonID == personID
	})
}

func (r *relationshipRepo) FindByPersonIDAndType(_ context.Context, personID string, relType domain.RelationshipType) ([]domain.Relationship, error) {
	return r.collect(func(rel domain.Relationship) bool {
		return rel.Type == relType && (rel.FromPersonID == personID || rel.ToPersonID == personID)
	})
}

func (r *relationshipRepo) FindBetweenPersons(_ context.Context, a, b string) (*domain.Relationship, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var found *domain.Relationship
	for _, rel := range r.store.state.relationships {
		if (rel.FromPersonID == a && rel.ToPersonID == b) || (rel.FromPersonID == b && rel.ToPersonID == a) {
			if found == nil || rel.ID < found.ID {
				cloned := cloneRelationship(rel)
				found = &cloned
			}
		}
	}
	return found, nil
}

func (r *relationshipRepo) FindParents(_ context.Context, personID string) ([]domain.Relationship, error) {
	return r.collect(func(rel domain.Relationship) bool {
		return rel.Type.IsParent() && rel.ToPersonID == personID
	})
}

func (r *relationshipRepo) FindChildren(_ context.Context, personID string) ([]domain.Relationship, error) {
	return r.collect(func(rel domain.Relationship) bool {
		return rel.Type.IsParent() && rel.FromPersonID == personID
	})
}

func (r *relationshipRepo) FindSpouses(_ context.Context, personID string) ([]domain.Relationship, error) {
	return r.collect(func(rel domain.Relationship) bool {
		return rel.Type == domain.RelationshipSpouse && (rel.FromPersonID == personID || rel.ToPersonID == personID)
	})
}

func (r *relationshipRepo) FindSiblings(_ context.Context, personID string) ([]domain.Relationship, error) {
	return r.collect(func(rel domain.Relationship) bool {
		return rel.Type == domain.RelationshipSibling && (rel.FromPersonID == personID || rel.ToPersonID == personID)
	})
}

func (r *relationshipRepo) Create(ctx context.Context, rel *domain.Relationship) error {
	if rel == nil {
		return fmt.Errorf("relationship required")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if rel.ID == "" {
		rel.ID = generateID("rel")
	}
	if _, exists := r.store.state.relationships[rel.ID]; exists {
		return fmt.Errorf("relationship %s already exists", rel.ID)
	}
	now := time.Now().UTC()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	rel.UpdatedAt = now
	r.store.state.relationships[rel.ID] = cloneRelationship(*rel)
	return r.store.mutated(ctx)
}

func (r *relationshipRepo) Update(ctx context.Context, rel *domain.Relationship) error {
	if rel == nil {
		return fmt.Errorf("relationship required")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.relationships[rel.ID]; !exists {
		return domain.NotFoundError{Entity: domain.EntityRelationship, ID: rel.ID}
	}
	rel.UpdatedAt = time.Now().UTC()
	r.store.state.relationships[rel.ID] = cloneRelationship(*rel)
	return r.store.mutated(ctx)
}

func (r *relationshipRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.state.relationships[id]; !exists {
		return domain.NotFoundError{Entity: domain.EntityRelationship, ID: id}
	}
	delete(r.store.state.relationships, id)
	return r.store.mutated(ctx)
}

func (r *relationshipRepo) DeleteByTreeID(ctx context.Context, treeID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, rel := range r.store.state.relationships {
		if rel.TreeID == treeID {
			delete(r.store.state.relationships, id)
		}
	}
	return r.store.mutated(ctx)
}

func (r *relationshipRepo) collect(match func(domain.Relationship) bool) ([]domain.Relationship, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Relationship, 0)
	for _, rel := range r.store.state.relationships {
		if match(rel) {
			out = append(out, cloneRelationship(rel))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type auditRepo struct{ store *Store }

func (r *auditRepo) Create(ctx context.Context, entry *domain.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry required")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if entry.ID == "" {
		entry.ID = generateID("aud")
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	r.store.state.audit = append(r.store.state.audit, cloneAudit(*entry))
	return r.store.mutated(ctx)
}

func clonePerson(p domain.Person) domain.Person {
	out := p
	out.BirthDate = cloneTime(p.BirthDate)
	out.DeathDate = cloneTime(p.DeathDate)
	if p.Attributes != nil {
		out.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

func cloneTree(t domain.Tree) domain.Tree {
	out := t
	if t.Collaborators != nil {
		out.Collaborators = make([]domain.Collaborator, len(t.Collaborators))
		copy(out.Collaborators, t.Collaborators)
	}
	return out
}

func cloneRelationship(rel domain.Relationship) domain.Relationship {
	out := rel
	out.StartDate = cloneTime(rel.StartDate)
	out.EndDate = cloneTime(rel.EndDate)
	if rel.Notes != nil {
		notes := *rel.Notes
		out.Notes = &notes
	}
	return out
}

func cloneAudit(entry domain.AuditEntry) domain.AuditEntry {
	out := entry
	if entry.Details != nil {
		out.Details = make(map[string]string, len(entry.Details))
		for k, v := range entry.Details {
			out.Details[k] = v
		}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cloned := *t
	return &cloned
}

func generateID(prefix string) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + hex.EncodeToString(b[:])
}
