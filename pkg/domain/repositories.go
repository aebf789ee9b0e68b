package domain

import "context"

// PersonRepository provides point reads over person records. Absent records
// are reported as (nil, nil), never as an error.
type PersonRepository interface {
	FindByID(ctx context.Context, id string) (*Person, error)
	FindByIDs(ctx context.Context, ids []string) ([]Person, error)
	FindByTreeID(ctx context.Context, treeID string) ([]Person, error)
	DeleteByTreeID(ctx context.Context, treeID string) error
}

// TreeRepository resolves tree records including owner, collaborators, and
// settings. Absent trees are reported as (nil, nil). FindAll exists for
// administrative tooling that scans every tree.
type TreeRepository interface {
	FindByID(ctx context.Context, id string) (*Tree, error)
	FindAll(ctx context.Context) ([]Tree, error)
}

// RelationshipRepository provides CRUD and indexed lookups over relationship
// edges. FindBetweenPersons is direction-agnostic: it returns the first edge
// between the pair regardless of orientation.
type RelationshipRepository interface {
	FindByID(ctx context.Context, id string) (*Relationship, error)
	FindByTreeID(ctx context.Context, treeID string) ([]Relationship, error)
	FindByPersonID(ctx context.Context, personID string) ([]Relationship, error)
	FindByPersonIDAndType(ctx context.Context, personID string, relType RelationshipType) ([]Relationship, error)
	FindBetweenPersons(ctx context.Context, a, b string) (*Relationship, error)
	FindParents(ctx context.Context, personID string) ([]Relationship, error)
	FindChildren(ctx context.Context, personID string) ([]Relationship, error)
	FindSpouses(ctx context.Context, personID string) ([]Relationship, error)
	FindSiblings(ctx context.Context, personID string) ([]Relationship, error)
	Create(ctx context.Context, rel *Relationship) error
	Update(ctx context.Context, rel *Relationship) error
	Delete(ctx context.Context, id string) error
	DeleteByTreeID(ctx context.Context, treeID string) error
}

// AuditRepository accepts write-only audit records. Failures must be surfaced
// to callers as warnings, never aborting the primary operation.
type AuditRepository interface {
	Create(ctx context.Context, entry *AuditEntry) error
}

// Repositories bundles the persistence interfaces consumed by the core.
type Repositories struct {
	Persons       PersonRepository
	Trees         TreeRepository
	Relationships RelationshipRepository
	Audit         AuditRepository
}
