package core

import (
	"fmt"

	"kincore/pkg/domain"
)

// ValidateRelationship checks a relationship input for structural problems
// and returns human-readable messages, one per problem. An empty slice means
// the input is valid. The check is pure so the boundary layer can reuse it
// for pre-flight validation without touching repositories; invariants that
// need graph state (parent caps, cycles, duplicates) are enforced by the
// mutation paths instead.
func ValidateRelationship(input RelationshipInput) []string {
	var msgs []string
	if input.FromPersonID == "" {
		msgs = append(msgs, "from person id is required")
	}
	if input.ToPersonID == "" {
		msgs = append(msgs, "to person id is required")
	}
	if input.FromPersonID != "" && input.FromPersonID == input.ToPersonID {
		msgs = append(msgs, "a person cannot have a relationship with themselves")
	}
	if !input.Type.Valid() {
		msgs = append(msgs, fmt.Sprintf("unknown relationship type %q", input.Type))
	}
	if input.StartDate != nil && input.EndDate != nil && input.EndDate.Before(*input.StartDate) {
		msgs = append(msgs, "end date must not precede start date")
	}
	return msgs
}

// ValidateTree checks tree-level invariants: a single implicit owner and
// distinct collaborator user ids with known roles.
func ValidateTree(tree *domain.Tree) []string {
	var msgs []string
	if tree.OwnerID == "" {
		msgs = append(msgs, "owner id is required")
	}
	seen := make(map[string]struct{}, len(tree.Collaborators))
	for _, c := range tree.Collaborators {
		if c.UserID == "" {
			msgs = append(msgs, "collaborator user id is required")
			continue
		}
		if c.UserID == tree.OwnerID {
			msgs = append(msgs, fmt.Sprintf("owner %s must not be listed as a collaborator", c.UserID))
		}
		if _, dup := seen[c.UserID]; dup {
			msgs = append(msgs, fmt.Sprintf("collaborator %s listed more than once", c.UserID))
		}
		seen[c.UserID] = struct{}{}
		if !c.Role.Valid() {
			msgs = append(msgs, fmt.Sprintf("collaborator %s has unknown role %q", c.UserID, c.Role))
		}
	}
	return msgs
}
