package core

import "kincore/pkg/domain"

// Decision is the verdict a permission strategy returns for a single
// (user, tree, action) question.
type Decision int

// Strategy verdicts. A strategy that does not apply abstains rather than
// denying, so lower-priority strategies still get a vote.
const (
	Abstain Decision = iota
	Allow
	Deny
)

// Strategy is a pure authorization rule. Evaluate must be side-effect-free
// and must never fail: inapplicable strategies abstain.
type Strategy interface {
	Name() string
	Evaluate(userID string, tree *domain.Tree, action domain.Action) Decision
}

// DefaultStrategies returns the built-in strategy set in its fixed priority
// order: owner, attribute, role. The order is a business rule, not an
// extensibility point: owner rights must short-circuit before role checks,
// and public-tree view access must be granted before the role strategy can
// abstain for strangers.
func DefaultStrategies() []Strategy {
	return []Strategy{
		OwnerStrategy{},
		AttributeStrategy{},
		RoleStrategy{},
	}
}

// OwnerStrategy grants the tree owner every action, including irrevocable
// ones such as tree deletion and collaborator management that no other
// strategy may grant.
type OwnerStrategy struct{}

// Name identifies the strategy in diagnostics.
func (OwnerStrategy) Name() string { return "owner" }

// Evaluate allows any action for the owner and abstains for everyone else.
func (OwnerStrategy) Evaluate(userID string, tree *domain.Tree, _ domain.Action) Decision {
	if tree.OwnerID == userID {
		return Allow
	}
	return Abstain
}

// AttributeStrategy grants view actions on public trees regardless of
// collaborator status. It stays read-only against any data it is given so it
// remains a safe extension point for future per-person attribute rules.
type AttributeStrategy struct{}

// Name identifies the strategy in diagnostics.
func (AttributeStrategy) Name() string { return "attribute" }

// Evaluate allows view actions when the tree is public, abstains otherwise.
func (AttributeStrategy) Evaluate(_ string, tree *domain.Tree, action domain.Action) Decision {
	if tree.Settings.IsPublic && action.IsView() {
		return Allow
	}
	return Abstain
}

// RoleStrategy maps a collaborator's role to its static permission set.
type RoleStrategy struct{}

// Name identifies the strategy in diagnostics.
func (RoleStrategy) Name() string { return "role" }

// Evaluate allows when the collaborator's role grants the action, denies when
// the user is a collaborator without the action, and abstains for
// non-collaborators.
func (RoleStrategy) Evaluate(userID string, tree *domain.Tree, action domain.Action) Decision {
	role, ok := tree.CollaboratorRole(userID)
	if !ok {
		return Abstain
	}
	if domain.RoleAllows(role, action) {
		return Allow
	}
	return Deny
}
