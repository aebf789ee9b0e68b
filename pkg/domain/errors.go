package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports structurally malformed input. It carries the full
// list of field-level messages so the boundary layer can render them without
// string parsing.
type ValidationError struct {
	Messages []string
}

func (e ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// NotFoundError reports an absent Person, Tree, or Relationship.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// PermissionError reports a denied action. The message never reveals whether
// the denial stems from a missing resource or an insufficient role.
type PermissionError struct {
	Action Action
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("permission denied for %s", e.Action)
}

// BusinessRuleError reports a structurally valid request that violates a
// domain invariant (cycle, parent count, duplicate edge, tree mismatch,
// active-spouse conflict).
type BusinessRuleError struct {
	Rule    string
	Message string
}

func (e BusinessRuleError) Error() string {
	return e.Message
}

// Invariant rule identifiers carried by BusinessRuleError.
const (
	RuleMaxParents         = "max_parents"
	RuleAcyclicLineage     = "acyclic_lineage"
	RuleDuplicateEdge      = "duplicate_edge"
	RuleTreeMismatch       = "tree_mismatch"
	RuleActiveSpouse       = "active_spouse"
	RuleSelfRelationship   = "self_relationship"
	RuleSpouseSymmetry     = "spouse_symmetry"
	RuleParentGenderTyping = "parent_gender_typing"
)
