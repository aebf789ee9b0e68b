package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kincore/pkg/domain"

	"github.com/google/uuid"
)

// GraphService maintains the family graph's structural invariants and exposes
// its traversal algorithms. Every mutation consults the authorization engine
// before any other validation so that denials never leak graph shape, and
// every committed mutation is paired with an audit record.
type GraphService struct {
	repos   domain.Repositories
	perms   *PermissionService
	logger  *slog.Logger
	metrics MetricsRecorder
}

// GraphOption customises GraphService construction.
type GraphOption func(*GraphService)

// WithLogger overrides the diagnostic logger.
func WithLogger(logger *slog.Logger) GraphOption {
	return func(s *GraphService) { s.logger = logger }
}

// WithMetrics wires an operation metrics recorder.
func WithMetrics(rec MetricsRecorder) GraphOption {
	return func(s *GraphService) { s.metrics = rec }
}

// NewGraphService constructs the relationship graph engine.
func NewGraphService(repos domain.Repositories, perms *PermissionService, opts ...GraphOption) (*GraphService, error) {
	if repos.Persons == nil || repos.Trees == nil || repos.Relationships == nil || repos.Audit == nil {
		return nil, fmt.Errorf("all repositories required")
	}
	if perms == nil {
		return nil, fmt.Errorf("permission service required")
	}
	s := &GraphService{repos: repos, perms: perms, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RelationshipInput carries the client-supplied fields for a new edge.
type RelationshipInput struct {
	FromPersonID string
	ToPersonID   string
	Type         domain.RelationshipType
	StartDate    *time.Time
	EndDate      *time.Time
	Notes        *string
}

// CreateRelationship validates and persists a new edge. Spouse edges route to
// the bidirectional constructor and parent-kind edges to the gender-resolved
// parent constructor; anything else becomes a single directed edge.
//
// Checks run in a fixed order (permission, validation, existence, cross-tree,
// type-specific rules, cycle, duplicate) and the first failure wins.
func (s *GraphService) CreateRelationship(ctx context.Context, treeID, userID string, input RelationshipInput) (rel *domain.Relationship, err error) {
	defer s.observe(ctx, "create_relationship", time.Now(), &err)

	if !s.perms.CanAccess(ctx, userID, treeID, domain.ActionAddRelationship) {
		return nil, domain.PermissionError{Action: domain.ActionAddRelationship}
	}
	if msgs := ValidateRelationship(input); len(msgs) > 0 {
		return nil, domain.ValidationError{Messages: msgs}
	}
	from, to, err := s.resolvePair(ctx, treeID, input.FromPersonID, input.ToPersonID)
	if err != nil {
		return nil, err
	}

	switch {
	case input.Type == domain.RelationshipSpouse:
		return s.createSpouse(ctx, treeID, userID, from, to, input)
	case input.Type.IsParent():
		return s.createParent(ctx, treeID, userID, from, to.ID, input)
	default:
		if err := s.checkNoEdge(ctx, from.ID, to.ID); err != nil {
			return nil, err
		}
		created, err := s.insert(ctx, treeID, input)
		if err != nil {
			return nil, err
		}
		s.audit(ctx, treeID, userID, domain.AuditCreate, created.ID, map[string]string{"type": string(created.Type)})
		return created, nil
	}
}

// CreateSpouseRelationship creates the mirrored pair of spouse edges between
// two persons. Both writes succeed or neither survives: the mirror is written
// first and rolled back when the primary write fails. A crash between the two
// writes leaves a visible inconsistency that the consistency-check repair
// pass removes.
func (s *GraphService) CreateSpouseRelationship(ctx context.Context, treeID, userID, personAID, personBID string, input RelationshipInput) (rel *domain.Relationship, err error) {
	defer s.observe(ctx, "create_spouse_relationship", time.Now(), &err)

	if !s.perms.CanAccess(ctx, userID, treeID, domain.ActionAddRelationship) {
		return nil, domain.PermissionError{Action: domain.ActionAddRelationship}
	}
	input.FromPersonID = personAID
	input.ToPersonID = personBID
	input.Type = domain.RelationshipSpouse
	if msgs := ValidateRelationship(input); len(msgs) > 0 {
		return nil, domain.ValidationError{Messages: msgs}
	}
	a, b, err := s.resolvePair(ctx, treeID, personAID, personBID)
	if err != nil {
		return nil, err
	}
	return s.createSpouse(ctx, treeID, userID, a, b, input)
}

// createSpouse enforces the active-spouse and duplicate-edge rules and writes
// the mirrored edge pair.
func (s *GraphService) createSpouse(ctx context.Context, treeID, userID string, a, b *domain.Person, input RelationshipInput) (*domain.Relationship, error) {
	input.FromPersonID = a.ID
	input.ToPersonID = b.ID
	input.Type = domain.RelationshipSpouse

	// A new ongoing marriage is blocked while either side has an active
	// spouse. Ended marriages may be recorded at any time.
	if input.EndDate == nil {
		for _, id := range []string{a.ID, b.ID} {
			active, err := s.hasActiveSpouse(ctx, id)
			if err != nil {
				return nil, err
			}
			if active {
				return nil, domain.BusinessRuleError{
					Rule:    domain.RuleActiveSpouse,
					Message: fmt.Sprintf("person %s already has an active spouse", id),
				}
			}
		}
	}
	if err := s.checkNoEdge(ctx, a.ID, b.ID); err != nil {
		return nil, err
	}

	mirrorInput := input
	mirrorInput.FromPersonID = b.ID
	mirrorInput.ToPersonID = a.ID
	mirror, err := s.insert(ctx, treeID, mirrorInput)
	if err != nil {
		return nil, err
	}
	primary, err := s.insert(ctx, treeID, input)
	if err != nil {
		if delErr := s.repos.Relationships.Delete(ctx, mirror.ID); delErr != nil {
			s.logger.Warn("spouse mirror rollback failed, repair pass required",
				"mirror_id", mirror.ID, "error", delErr)
		}
		return nil, err
	}

	s.audit(ctx, treeID, userID, domain.AuditCreate, primary.ID, map[string]string{
		"type":      string(domain.RelationshipSpouse),
		"mirror_id": mirror.ID,
	})
	return primary, nil
}

// CreateParentRelationship records parentID as a parent of childID. The edge
// type is resolved from the parent's current gender: male becomes father,
// female becomes mother, anything else stays parent.
func (s *GraphService) CreateParentRelationship(ctx context.Context, treeID, userID, parentID, childID string) (rel *domain.Relationship, err error) {
	defer s.observe(ctx, "create_parent_relationship", time.Now(), &err)

	if !s.perms.CanAccess(ctx, userID, treeID, domain.ActionAddRelationship) {
		return nil, domain.PermissionError{Action: domain.ActionAddRelationship}
	}
	input := RelationshipInput{FromPersonID: parentID, ToPersonID: childID, Type: domain.RelationshipParent}
	if msgs := ValidateRelationship(input); len(msgs) > 0 {
		return nil, domain.ValidationError{Messages: msgs}
	}
	parent, child, err := s.resolvePair(ctx, treeID, parentID, childID)
	if err != nil {
		return nil, err
	}
	return s.createParent(ctx, treeID, userID, parent, child.ID, input)
}

// createParent enforces the parent-edge invariants (two-parent cap, lineage
// acyclicity, no duplicate edge) and writes the gender-typed edge.
func (s *GraphService) createParent(ctx context.Context, treeID, userID string, parent *domain.Person, childID string, input RelationshipInput) (*domain.Relationship, error) {
	parents, err := s.repos.Relationships.FindParents(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("finding parents: %w", err)
	}
	if len(parents) >= 2 {
		return nil, domain.BusinessRuleError{
			Rule:    domain.RuleMaxParents,
			Message: fmt.Sprintf("person %s already has two parents", childID),
		}
	}
	cycle, err := s.CheckForCycles(ctx, parent.ID, childID, domain.RelationshipParent)
	if err != nil {
		return nil, err
	}
	if cycle {
		return nil, domain.BusinessRuleError{
			Rule:    domain.RuleAcyclicLineage,
			Message: fmt.Sprintf("relationship would make %s its own ancestor", childID),
		}
	}
	if err := s.checkNoEdge(ctx, parent.ID, childID); err != nil {
		return nil, err
	}

	input.FromPersonID = parent.ID
	input.ToPersonID = childID
	input.Type = domain.ParentTypeForGender(parent.Gender)
	created, err := s.insert(ctx, treeID, input)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, treeID, userID, domain.AuditCreate, created.ID, map[string]string{"type": string(created.Type)})
	return created, nil
}

// DeleteRelationship removes an edge and, for spouse edges, its mirror. A
// missing mirror is tolerated: the remaining edge is removed on its own.
func (s *GraphService) DeleteRelationship(ctx context.Context, relationshipID, userID string) (err error) {
	defer s.observe(ctx, "delete_relationship", time.Now(), &err)

	rel, err := s.repos.Relationships.FindByID(ctx, relationshipID)
	if err != nil {
		return fmt.Errorf("finding relationship: %w", err)
	}
	if rel == nil {
		return domain.NotFoundError{Entity: domain.EntityRelationship, ID: relationshipID}
	}
	if !s.perms.CanAccess(ctx, userID, rel.TreeID, domain.ActionDeleteRelationship) {
		return domain.PermissionError{Action: domain.ActionDeleteRelationship}
	}

	if err := s.repos.Relationships.Delete(ctx, rel.ID); err != nil {
		return fmt.Errorf("deleting relationship: %w", err)
	}
	details := map[string]string{"type": string(rel.Type)}
	if rel.Type == domain.RelationshipSpouse {
		mirror, err := s.repos.Relationships.FindBetweenPersons(ctx, rel.ToPersonID, rel.FromPersonID)
		if err != nil {
			return fmt.Errorf("finding spouse mirror: %w", err)
		}
		if mirror != nil && mirror.Type == domain.RelationshipSpouse && mirror.ID != rel.ID {
			if err := s.repos.Relationships.Delete(ctx, mirror.ID); err != nil {
				return fmt.Errorf("deleting spouse mirror: %w", err)
			}
			details["mirror_id"] = mirror.ID
		}
	}
	s.audit(ctx, rel.TreeID, userID, domain.AuditDelete, rel.ID, details)
	return nil
}

// RetypeParentRelationships re-resolves the type of every outgoing
// parent-kind edge after a person's gender change, keeping father/mother
// typing consistent with the parent's current gender. Each retyped edge is
// audited individually. The updated edges are returned.
func (s *GraphService) RetypeParentRelationships(ctx context.Context, personID string, newGender domain.Gender, userID string) (updated []domain.Relationship, err error) {
	defer s.observe(ctx, "retype_parent_relationships", time.Now(), &err)

	if !newGender.Valid() {
		return nil, domain.ValidationError{Messages: []string{fmt.Sprintf("invalid gender %q", newGender)}}
	}
	person, err := s.repos.Persons.FindByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("finding person: %w", err)
	}
	if person == nil {
		return nil, domain.NotFoundError{Entity: domain.EntityPerson, ID: personID}
	}
	if !s.perms.CanAccess(ctx, userID, person.TreeID, domain.ActionEditRelationship) {
		return nil, domain.PermissionError{Action: domain.ActionEditRelationship}
	}

	edges, err := s.repos.Relationships.FindChildren(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("finding outgoing parent edges: %w", err)
	}
	want := domain.ParentTypeForGender(newGender)
	updated = []domain.Relationship{}
	for _, edge := range edges {
		if !edge.Type.IsParent() || edge.Type == want {
			continue
		}
		previous := edge.Type
		edge.Type = want
		edge.UpdatedAt = time.Now().UTC()
		if err := s.repos.Relationships.Update(ctx, &edge); err != nil {
			return updated, fmt.Errorf("retyping relationship %s: %w", edge.ID, err)
		}
		s.audit(ctx, edge.TreeID, userID, domain.AuditUpdate, edge.ID, map[string]string{
			"type":          string(want),
			"previous_type": string(previous),
		})
		updated = append(updated, edge)
	}
	return updated, nil
}

// BatchFailure pairs a failed batch item with its input index.
type BatchFailure struct {
	Index int
	Err   error
}

// BatchResult reports the outcome of a best-effort batch creation.
type BatchResult struct {
	Created  []domain.Relationship
	Failures []BatchFailure
}

// CreateRelationshipsForPerson creates several edges for one person in a
// single call, typically when a new person is linked into the graph.
// Individual failures are collected and logged but do not abort sibling
// creations; the result reports which items succeeded.
func (s *GraphService) CreateRelationshipsForPerson(ctx context.Context, treeID, userID, personID string, inputs []RelationshipInput) (BatchResult, error) {
	if !s.perms.CanAccess(ctx, userID, treeID, domain.ActionAddRelationship) {
		return BatchResult{}, domain.PermissionError{Action: domain.ActionAddRelationship}
	}
	result := BatchResult{}
	for i, input := range inputs {
		if input.FromPersonID == "" {
			input.FromPersonID = personID
		}
		created, err := s.CreateRelationship(ctx, treeID, userID, input)
		if err != nil {
			s.logger.Warn("batch relationship creation failed",
				"person_id", personID, "index", i, "error", err)
			result.Failures = append(result.Failures, BatchFailure{Index: i, Err: err})
			continue
		}
		result.Created = append(result.Created, *created)
	}
	return result, nil
}

// resolvePair loads both endpoints and verifies they belong to treeID.
func (s *GraphService) resolvePair(ctx context.Context, treeID, fromID, toID string) (*domain.Person, *domain.Person, error) {
	from, err := s.repos.Persons.FindByID(ctx, fromID)
	if err != nil {
		return nil, nil, fmt.Errorf("finding person: %w", err)
	}
	if from == nil {
		return nil, nil, domain.NotFoundError{Entity: domain.EntityPerson, ID: fromID}
	}
	to, err := s.repos.Persons.FindByID(ctx, toID)
	if err != nil {
		return nil, nil, fmt.Errorf("finding person: %w", err)
	}
	if to == nil {
		return nil, nil, domain.NotFoundError{Entity: domain.EntityPerson, ID: toID}
	}
	for _, p := range []*domain.Person{from, to} {
		if p.TreeID != treeID {
			return nil, nil, domain.BusinessRuleError{
				Rule:    domain.RuleTreeMismatch,
				Message: fmt.Sprintf("person %s does not belong to tree %s", p.ID, treeID),
			}
		}
	}
	return from, to, nil
}

// checkNoEdge rejects a pair already connected in either direction,
// regardless of edge type.
func (s *GraphService) checkNoEdge(ctx context.Context, a, b string) error {
	existing, err := s.repos.Relationships.FindBetweenPersons(ctx, a, b)
	if err != nil {
		return fmt.Errorf("checking existing relationship: %w", err)
	}
	if existing != nil {
		return domain.BusinessRuleError{
			Rule:    domain.RuleDuplicateEdge,
			Message: fmt.Sprintf("a relationship already exists between %s and %s", a, b),
		}
	}
	return nil
}

func (s *GraphService) hasActiveSpouse(ctx context.Context, personID string) (bool, error) {
	spouses, err := s.repos.Relationships.FindSpouses(ctx, personID)
	if err != nil {
		return false, fmt.Errorf("finding spouses: %w", err)
	}
	for i := range spouses {
		if spouses[i].Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *GraphService) insert(ctx context.Context, treeID string, input RelationshipInput) (*domain.Relationship, error) {
	now := time.Now().UTC()
	rel := &domain.Relationship{
		Base:         domain.Base{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
		TreeID:       treeID,
		FromPersonID: input.FromPersonID,
		ToPersonID:   input.ToPersonID,
		Type:         input.Type,
		StartDate:    input.StartDate,
		EndDate:      input.EndDate,
		Notes:        input.Notes,
	}
	if err := s.repos.Relationships.Create(ctx, rel); err != nil {
		return nil, fmt.Errorf("creating relationship: %w", err)
	}
	return rel, nil
}

// audit writes a trail entry for a committed mutation. Audit failures are
// surfaced as warnings only; the primary operation has already succeeded.
func (s *GraphService) audit(ctx context.Context, treeID, actor string, action domain.AuditAction, relationshipID string, details map[string]string) {
	entry := &domain.AuditEntry{
		ID:         uuid.NewString(),
		TreeID:     treeID,
		Actor:      actor,
		Action:     action,
		Entity:     domain.EntityRelationship,
		EntityID:   relationshipID,
		Details:    details,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.repos.Audit.Create(ctx, entry); err != nil {
		s.logger.Warn("audit write failed",
			"entity_id", relationshipID, "action", string(action), "error", err)
	}
}

func (s *GraphService) observe(ctx context.Context, operation string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Observe(ctx, operation, *err == nil, time.Since(start))
}
