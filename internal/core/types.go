package core

import "kincore/pkg/domain"

type (
	EntityType       = domain.EntityType
	Gender           = domain.Gender
	RelationshipType = domain.RelationshipType
	Action           = domain.Action
	Role             = domain.Role
	Base             = domain.Base
	Person           = domain.Person
	Tree             = domain.Tree
	Collaborator     = domain.Collaborator
	Relationship     = domain.Relationship
	AuditEntry       = domain.AuditEntry
	Repositories     = domain.Repositories
)

const (
	EntityPerson       = domain.EntityPerson
	EntityTree         = domain.EntityTree
	EntityRelationship = domain.EntityRelationship
)

const (
	RelationshipParent  = domain.RelationshipParent
	RelationshipFather  = domain.RelationshipFather
	RelationshipMother  = domain.RelationshipMother
	RelationshipSpouse  = domain.RelationshipSpouse
	RelationshipSibling = domain.RelationshipSibling
)

const (
	RoleViewer = domain.RoleViewer
	RoleEditor = domain.RoleEditor
	RoleOwner  = domain.RoleOwner
)
