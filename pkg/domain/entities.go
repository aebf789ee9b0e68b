// Package domain defines the core persistent entities, the role and action
// model, the error taxonomy, and the repository interfaces used by kincore.
package domain

import (
	"sort"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in audit records and persistence buckets.
const (
	// EntityPerson identifies an individual person record.
	EntityPerson EntityType = "person"
	// EntityTree identifies a family tree record.
	EntityTree EntityType = "tree"
	// EntityRelationship identifies a relationship edge record.
	EntityRelationship EntityType = "relationship"
)

// Gender enumerates the recognised gender values for a person.
type Gender string

// Canonical gender values. Parent-edge typing derives from these.
const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

// Valid reports whether g is one of the canonical gender values.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther, GenderUnknown:
		return true
	}
	return false
}

// RelationshipType identifies the kind of edge between two persons.
type RelationshipType string

// Canonical relationship types. Father and mother are refinements of parent
// and carry identical structural semantics.
const (
	RelationshipParent  RelationshipType = "parent"
	RelationshipFather  RelationshipType = "father"
	RelationshipMother  RelationshipType = "mother"
	RelationshipSpouse  RelationshipType = "spouse"
	RelationshipSibling RelationshipType = "sibling"
)

// Valid reports whether t is one of the canonical relationship types.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelationshipParent, RelationshipFather, RelationshipMother, RelationshipSpouse, RelationshipSibling:
		return true
	}
	return false
}

// IsParent reports whether t carries parent semantics (parent, father, mother).
func (t RelationshipType) IsParent() bool {
	return t == RelationshipParent || t == RelationshipFather || t == RelationshipMother
}

// ParentTypeForGender resolves the parent edge type matching a parent's gender.
func ParentTypeForGender(g Gender) RelationshipType {
	switch g {
	case GenderMale:
		return RelationshipFather
	case GenderFemale:
		return RelationshipMother
	default:
		return RelationshipParent
	}
}

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Person represents an individual tracked within a family tree.
type Person struct {
	Base
	TreeID     string            `json:"tree_id"`
	FirstName  string            `json:"first_name"`
	LastName   string            `json:"last_name"`
	Gender     Gender            `json:"gender"`
	BirthDate  *time.Time        `json:"birth_date,omitempty"`
	DeathDate  *time.Time        `json:"death_date,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// TreeSettings captures per-tree visibility configuration.
type TreeSettings struct {
	IsPublic bool `json:"is_public"`
}

// Collaborator grants a user a role on a tree. The owner is implicit and is
// never listed as a collaborator.
type Collaborator struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Tree represents a family tree owned by a single user.
type Tree struct {
	Base
	Name          string         `json:"name"`
	OwnerID       string         `json:"owner_id"`
	Collaborators []Collaborator `json:"collaborators"`
	Settings      TreeSettings   `json:"settings"`
}

// CollaboratorRole returns the role granted to userID and whether the user is
// listed as a collaborator. The owner is resolved separately.
func (t *Tree) CollaboratorRole(userID string) (Role, bool) {
	for _, c := range t.Collaborators {
		if c.UserID == userID {
			return c.Role, true
		}
	}
	return "", false
}

// Relationship represents a directed edge between two persons in a tree.
// Direction matters for parent-type edges (from = parent, to = child). Spouse
// edges are stored as two mirrored directed edges created and deleted together.
type Relationship struct {
	Base
	TreeID       string           `json:"tree_id"`
	FromPersonID string           `json:"from_person_id"`
	ToPersonID   string           `json:"to_person_id"`
	Type         RelationshipType `json:"type"`
	StartDate    *time.Time       `json:"start_date,omitempty"`
	EndDate      *time.Time       `json:"end_date,omitempty"`
	Notes        *string          `json:"notes,omitempty"`
}

// Active reports whether the relationship has no end date.
func (r *Relationship) Active() bool {
	return r.EndDate == nil
}

// AuditAction indicates the type of modification captured in the audit trail.
type AuditAction string

// Audit actions enumerate the mutations recorded by the core.
const (
	// AuditCreate indicates an entity was created.
	AuditCreate AuditAction = "create"
	// AuditUpdate indicates an entity was updated.
	AuditUpdate AuditAction = "update"
	AuditDelete AuditAction = "delete"
)

// AuditEntry records a committed mutation for the audit trail.
type AuditEntry struct {
	ID         string            `json:"id"`
	TreeID     string            `json:"tree_id"`
	Actor      string            `json:"actor"`
	Action     AuditAction       `json:"action"`
	Entity     EntityType        `json:"entity"`
	EntityID   string            `json:"entity_id"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// SortPersonsByName orders persons by last name then first name using
// case-sensitive byte comparison.
func SortPersonsByName(persons []Person) {
	sort.Slice(persons, func(i, j int) bool {
		if persons[i].LastName != persons[j].LastName {
			return persons[i].LastName < persons[j].LastName
		}
		return persons[i].FirstName < persons[j].FirstName
	})
}
