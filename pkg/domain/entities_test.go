package domain

import (
	"testing"
	"time"
)

func TestParentTypeForGender(t *testing.T) {
	cases := []struct {
		gender Gender
		want   RelationshipType
	}{
		{GenderMale, RelationshipFather},
		{GenderFemale, RelationshipMother},
		{GenderOther, RelationshipParent},
		{GenderUnknown, RelationshipParent},
	}
	for _, tc := range cases {
		if got := ParentTypeForGender(tc.gender); got != tc.want {
			t.Errorf("ParentTypeForGender(%s) = %s, want %s", tc.gender, got, tc.want)
		}
	}
}

func TestRelationshipTypeIsParent(t *testing.T) {
	for _, parentType := range []RelationshipType{RelationshipParent, RelationshipFather, RelationshipMother} {
		if !parentType.IsParent() {
			t.Errorf("%s should carry parent semantics", parentType)
		}
	}
	if RelationshipSpouse.IsParent() || RelationshipSibling.IsParent() {
		t.Errorf("spouse and sibling must not carry parent semantics")
	}
}

func TestRelationshipActive(t *testing.T) {
	rel := Relationship{}
	if !rel.Active() {
		t.Fatalf("relationship with no end date should be active")
	}
	ended := time.Now()
	rel.EndDate = &ended
	if rel.Active() {
		t.Fatalf("relationship with end date should be inactive")
	}
}

func TestCollaboratorRole(t *testing.T) {
	tree := Tree{
		OwnerID: "owner",
		Collaborators: []Collaborator{
			{UserID: "alice", Role: RoleEditor},
			{UserID: "bob", Role: RoleViewer},
		},
	}
	if role, ok := tree.CollaboratorRole("alice"); !ok || role != RoleEditor {
		t.Fatalf("expected editor for alice, got %s ok=%v", role, ok)
	}
	if _, ok := tree.CollaboratorRole("owner"); ok {
		t.Fatalf("owner must not be resolved as collaborator")
	}
	if _, ok := tree.CollaboratorRole("stranger"); ok {
		t.Fatalf("stranger must not be resolved as collaborator")
	}
}

func TestSortPersonsByName(t *testing.T) {
	persons := []Person{
		{Base: Base{ID: "3"}, FirstName: "Zoe", LastName: "Adams"},
		{Base: Base{ID: "1"}, FirstName: "Amy", LastName: "Adams"},
		{Base: Base{ID: "2"}, FirstName: "Ben", LastName: "Young"},
	}
	SortPersonsByName(persons)
	got := persons[0].ID + persons[1].ID + persons[2].ID
	if got != "132" {
		t.Fatalf("unexpected sort order: %s", got)
	}
}
