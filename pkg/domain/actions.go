package domain

// Action identifies an operation a user may perform against a tree.
type Action string

// Canonical actions gated by the authorization engine.
const (
	ActionViewTree            Action = "view_tree"
	ActionEditTree            Action = "edit_tree"
	ActionDeleteTree          Action = "delete_tree"
	ActionManageCollaborators Action = "manage_collaborators"
	ActionAddPerson           Action = "add_person"
	ActionEditPerson          Action = "edit_person"
	ActionDeletePerson        Action = "delete_person"
	ActionAddRelationship     Action = "add_relationship"
	ActionEditRelationship    Action = "edit_relationship"
	ActionDeleteRelationship  Action = "delete_relationship"
)

// AllActions returns every action in a stable order.
func AllActions() []Action {
	return []Action{
		ActionViewTree,
		ActionEditTree,
		ActionDeleteTree,
		ActionManageCollaborators,
		ActionAddPerson,
		ActionEditPerson,
		ActionDeletePerson,
		ActionAddRelationship,
		ActionEditRelationship,
		ActionDeleteRelationship,
	}
}

// IsView reports whether a is a read-only action. Attribute-based rules grant
// only view actions on public trees.
func (a Action) IsView() bool {
	return a == ActionViewTree
}

// Role grants a fixed permission set on a tree.
type Role string

// Canonical roles ordered viewer < editor < owner.
const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

// Valid reports whether r is a canonical role.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleEditor, RoleOwner:
		return true
	}
	return false
}

// Ordinal returns the role's rank for minimum-role comparisons. Unknown roles
// rank below viewer.
func (r Role) Ordinal() int {
	switch r {
	case RoleOwner:
		return 2
	case RoleEditor:
		return 1
	case RoleViewer:
		return 0
	default:
		return -1
	}
}

var viewerActions = []Action{
	ActionViewTree,
}

var editorActions = []Action{
	ActionViewTree,
	ActionEditTree,
	ActionAddPerson,
	ActionEditPerson,
	ActionDeletePerson,
	ActionAddRelationship,
	ActionEditRelationship,
	ActionDeleteRelationship,
}

// RolePermissions returns the static action set granted by a role. Owner
// receives every action; editor everything except tree deletion and
// collaborator management; viewer read-only access.
func RolePermissions(r Role) []Action {
	switch r {
	case RoleOwner:
		return AllActions()
	case RoleEditor:
		out := make([]Action, len(editorActions))
		copy(out, editorActions)
		return out
	case RoleViewer:
		out := make([]Action, len(viewerActions))
		copy(out, viewerActions)
		return out
	default:
		return nil
	}
}

// RoleAllows reports whether the role's static permission set contains action.
func RoleAllows(r Role, action Action) bool {
	for _, a := range RolePermissions(r) {
		if a == action {
			return true
		}
	}
	return false
}
