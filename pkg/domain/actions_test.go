package domain

import "testing"

func TestRolePermissions(t *testing.T) {
	if got := RolePermissions(RoleOwner); len(got) != len(AllActions()) {
		t.Fatalf("owner should hold every action, got %d of %d", len(got), len(AllActions()))
	}

	editor := RolePermissions(RoleEditor)
	for _, forbidden := range []Action{ActionDeleteTree, ActionManageCollaborators} {
		for _, a := range editor {
			if a == forbidden {
				t.Errorf("editor must not hold %s", forbidden)
			}
		}
	}
	if !RoleAllows(RoleEditor, ActionAddRelationship) {
		t.Errorf("editor should hold %s", ActionAddRelationship)
	}

	viewer := RolePermissions(RoleViewer)
	if len(viewer) != 1 || viewer[0] != ActionViewTree {
		t.Errorf("viewer should hold only %s, got %v", ActionViewTree, viewer)
	}

	if RolePermissions(Role("gibberish")) != nil {
		t.Errorf("unknown role should hold nothing")
	}
}

func TestRoleOrdinal(t *testing.T) {
	if !(RoleViewer.Ordinal() < RoleEditor.Ordinal() && RoleEditor.Ordinal() < RoleOwner.Ordinal()) {
		t.Fatalf("role ordering broken: viewer=%d editor=%d owner=%d",
			RoleViewer.Ordinal(), RoleEditor.Ordinal(), RoleOwner.Ordinal())
	}
	if Role("gibberish").Ordinal() >= RoleViewer.Ordinal() {
		t.Fatalf("unknown role must rank below viewer")
	}
}

func TestActionIsView(t *testing.T) {
	if !ActionViewTree.IsView() {
		t.Fatalf("%s should be a view action", ActionViewTree)
	}
	for _, a := range AllActions() {
		if a != ActionViewTree && a.IsView() {
			t.Errorf("%s should not be a view action", a)
		}
	}
}
