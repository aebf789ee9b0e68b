package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kincore/pkg/domain"

	"golang.org/x/sync/errgroup"
)

// DefaultGenerations caps ancestor and descendant walks when the caller does
// not supply a positive limit.
const DefaultGenerations = 10

// FamilyMembers groups a person's direct relatives by relation kind. Slices
// are empty, never nil, when a relation has no data.
type FamilyMembers struct {
	Parents  []domain.Person `json:"parents"`
	Children []domain.Person `json:"children"`
	Spouses  []domain.Person `json:"spouses"`
	Siblings []domain.Person `json:"siblings"`
}

// Lineage is the layered result of an ancestor or descendant walk. Layer 0
// contains only the starting person; Depth equals len(Generations).
type Lineage struct {
	Generations [][]domain.Person `json:"generations"`
	Depth       int               `json:"depth"`
}

// FamilyUnit is a nuclear-family grouping used for layout: a spouse pair (or
// single parent) plus their shared children. GenerationLevel is
// caller-computed layout metadata and is always 0 here.
type FamilyUnit struct {
	ID              string   `json:"id"`
	ParentIDs       []string `json:"parent_ids"`
	ChildIDs        []string `json:"child_ids"`
	GenerationLevel int      `json:"generation_level"`
}

// GetFamilyMembers returns a person's direct relatives. The four typed edge
// lookups run concurrently; results are identical to a sequential resolution.
func (s *GraphService) GetFamilyMembers(ctx context.Context, personID, userID string) (members FamilyMembers, err error) {
	defer s.observe(ctx, "get_family_members", time.Now(), &err)

	person, err := s.authorizeView(ctx, personID, userID)
	if err != nil {
		return FamilyMembers{}, err
	}

	var parents, children, spouses, siblings []domain.Relationship
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		parents, err = s.repos.Relationships.FindParents(gctx, person.ID)
		return err
	})
	g.Go(func() (err error) {
		children, err = s.repos.Relationships.FindChildren(gctx, person.ID)
		return err
	})
	g.Go(func() (err error) {
		spouses, err = s.repos.Relationships.FindSpouses(gctx, person.ID)
		return err
	})
	g.Go(func() (err error) {
		siblings, err = s.repos.Relationships.FindSiblings(gctx, person.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return FamilyMembers{}, fmt.Errorf("resolving family edges: %w", err)
	}

	parentIDs := edgeEndpoints(parents, person.ID)
	childIDs := edgeEndpoints(children, person.ID)
	spouseIDs := edgeEndpoints(spouses, person.ID)
	siblingIDs := edgeEndpoints(siblings, person.ID)

	union := make([]string, 0, len(parentIDs)+len(childIDs)+len(spouseIDs)+len(siblingIDs))
	seen := make(map[string]struct{})
	for _, ids := range [][]string{parentIDs, childIDs, spouseIDs, siblingIDs} {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			union = append(union, id)
		}
	}
	persons, err := s.repos.Persons.FindByIDs(ctx, union)
	if err != nil {
		return FamilyMembers{}, fmt.Errorf("resolving relatives: %w", err)
	}
	byID := make(map[string]domain.Person, len(persons))
	for _, p := range persons {
		byID[p.ID] = p
	}
	return FamilyMembers{
		Parents:  pickPersons(byID, parentIDs),
		Children: pickPersons(byID, childIDs),
		Spouses:  pickPersons(byID, spouseIDs),
		Siblings: pickPersons(byID, siblingIDs),
	}, nil
}

// GetAncestors walks parent edges upward from personID, one generation per
// layer, up to the given number of hops.
func (s *GraphService) GetAncestors(ctx context.Context, personID, userID string, generations int) (lineage Lineage, err error) {
	defer s.observe(ctx, "get_ancestors", time.Now(), &err)
	return s.walkLineage(ctx, personID, userID, generations, func(ctx context.Context, id string) ([]string, error) {
		edges, err := s.repos.Relationships.FindParents(ctx, id)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(edges))
		for _, e := range edges {
			out = append(out, e.FromPersonID)
		}
		return out, nil
	})
}

// GetDescendants walks parent edges downward from personID, one generation
// per layer, up to the given number of hops.
func (s *GraphService) GetDescendants(ctx context.Context, personID, userID string, generations int) (lineage Lineage, err error) {
	defer s.observe(ctx, "get_descendants", time.Now(), &err)
	return s.walkLineage(ctx, personID, userID, generations, func(ctx context.Context, id string) ([]string, error) {
		edges, err := s.repos.Relationships.FindChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(edges))
		for _, e := range edges {
			out = append(out, e.ToPersonID)
		}
		return out, nil
	})
}

// walkLineage performs the layered breadth-first traversal shared by ancestor
// and descendant queries. A global visited set guards against any cycle that
// slipped past the structural invariant.
func (s *GraphService) walkLineage(ctx context.Context, personID, userID string, generations int, expand func(context.Context, string) ([]string, error)) (Lineage, error) {
	person, err := s.authorizeView(ctx, personID, userID)
	if err != nil {
		return Lineage{}, err
	}
	if generations <= 0 {
		generations = DefaultGenerations
	}

	visited := map[string]struct{}{person.ID: {}}
	layers := [][]domain.Person{{*person}}
	frontier := []string{person.ID}

	for hop := 0; hop < generations && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			related, err := expand(ctx, id)
			if err != nil {
				return Lineage{}, fmt.Errorf("expanding generation %d: %w", hop+1, err)
			}
			for _, rid := range related {
				if _, dup := visited[rid]; dup {
					continue
				}
				visited[rid] = struct{}{}
				next = append(next, rid)
			}
		}
		if len(next) == 0 {
			break
		}
		persons, err := s.repos.Persons.FindByIDs(ctx, next)
		if err != nil {
			return Lineage{}, fmt.Errorf("resolving generation %d: %w", hop+1, err)
		}
		byID := make(map[string]domain.Person, len(persons))
		for _, p := range persons {
			byID[p.ID] = p
		}
		layers = append(layers, pickPersons(byID, next))
		frontier = next
	}
	return Lineage{Generations: layers, Depth: len(layers)}, nil
}

// CheckForCycles reports whether adding a fromPersonID→toPersonID edge of the
// given type would make a person their own ancestor. Non-parent types can
// never introduce a lineage cycle. The ancestor closure is computed with an
// explicit work list rather than recursion, so pathological graphs cannot
// overflow the stack.
func (s *GraphService) CheckForCycles(ctx context.Context, fromPersonID, toPersonID string, relType domain.RelationshipType) (bool, error) {
	if !relType.IsParent() {
		return false, nil
	}
	visited := make(map[string]struct{})
	work := []string{fromPersonID}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		edges, err := s.repos.Relationships.FindParents(ctx, id)
		if err != nil {
			return false, fmt.Errorf("walking ancestors of %s: %w", id, err)
		}
		for _, edge := range edges {
			ancestor := edge.FromPersonID
			if ancestor == toPersonID {
				return true, nil
			}
			if _, dup := visited[ancestor]; dup {
				continue
			}
			visited[ancestor] = struct{}{}
			work = append(work, ancestor)
		}
	}
	return false, nil
}

// GetFamilyUnits groups a tree into nuclear-family units for layout. Spouse
// pairs are deduplicated by a canonical sorted-id key and paired with the
// children shared by both members; spouse-less persons with outgoing parent
// edges form single-parent units keyed "single-<id>".
func (s *GraphService) GetFamilyUnits(ctx context.Context, treeID, userID string) (units []FamilyUnit, err error) {
	defer s.observe(ctx, "get_family_units", time.Now(), &err)

	if !s.perms.CanAccess(ctx, userID, treeID, domain.ActionViewTree) {
		return nil, domain.PermissionError{Action: domain.ActionViewTree}
	}
	rels, err := s.repos.Relationships.FindByTreeID(ctx, treeID)
	if err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	persons, err := s.repos.Persons.FindByTreeID(ctx, treeID)
	if err != nil {
		return nil, fmt.Errorf("loading persons: %w", err)
	}

	parentsOf := make(map[string]map[string]struct{})
	hasSpouse := make(map[string]struct{})
	isParent := make(map[string]struct{})
	type pair struct{ a, b string }
	spousePairs := make(map[string]pair)
	for _, rel := range rels {
		switch {
		case rel.Type == domain.RelationshipSpouse:
			hasSpouse[rel.FromPersonID] = struct{}{}
			hasSpouse[rel.ToPersonID] = struct{}{}
			a, b := rel.FromPersonID, rel.ToPersonID
			if b < a {
				a, b = b, a
			}
			spousePairs[a+"|"+b] = pair{a: a, b: b}
		case rel.Type.IsParent():
			isParent[rel.FromPersonID] = struct{}{}
			children := parentsOf[rel.ToPersonID]
			if children == nil {
				children = make(map[string]struct{})
				parentsOf[rel.ToPersonID] = children
			}
			children[rel.FromPersonID] = struct{}{}
		}
	}

	units = []FamilyUnit{}
	pairKeys := make([]string, 0, len(spousePairs))
	for key := range spousePairs {
		pairKeys = append(pairKeys, key)
	}
	sort.Strings(pairKeys)
	for _, key := range pairKeys {
		p := spousePairs[key]
		var childIDs []string
		for _, person := range persons {
			parents := parentsOf[person.ID]
			if parents == nil {
				continue
			}
			_, hasA := parents[p.a]
			_, hasB := parents[p.b]
			if hasA && hasB {
				childIDs = append(childIDs, person.ID)
			}
		}
		sort.Strings(childIDs)
		units = append(units, FamilyUnit{
			ID:        key,
			ParentIDs: []string{p.a, p.b},
			ChildIDs:  childIDs,
		})
	}

	singleIDs := make([]string, 0)
	for _, person := range persons {
		if _, married := hasSpouse[person.ID]; married {
			continue
		}
		if _, parent := isParent[person.ID]; !parent {
			continue
		}
		singleIDs = append(singleIDs, person.ID)
	}
	sort.Strings(singleIDs)
	for _, id := range singleIDs {
		var childIDs []string
		for _, person := range persons {
			if parents := parentsOf[person.ID]; parents != nil {
				if _, ok := parents[id]; ok {
					childIDs = append(childIDs, person.ID)
				}
			}
		}
		if len(childIDs) == 0 {
			continue
		}
		sort.Strings(childIDs)
		units = append(units, FamilyUnit{
			ID:        "single-" + id,
			ParentIDs: []string{id},
			ChildIDs:  childIDs,
		})
	}
	return units, nil
}

// SuggestRelationships returns the persons in the same tree not yet connected
// to personID by any edge, ordered by last then first name.
func (s *GraphService) SuggestRelationships(ctx context.Context, personID, userID string) (suggestions []domain.Person, err error) {
	defer s.observe(ctx, "suggest_relationships", time.Now(), &err)

	person, err := s.authorizeView(ctx, personID, userID)
	if err != nil {
		return nil, err
	}
	persons, err := s.repos.Persons.FindByTreeID(ctx, person.TreeID)
	if err != nil {
		return nil, fmt.Errorf("loading persons: %w", err)
	}
	edges, err := s.repos.Relationships.FindByPersonID(ctx, person.ID)
	if err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	connected := make(map[string]struct{}, len(edges)+1)
	connected[person.ID] = struct{}{}
	for _, edge := range edges {
		connected[edge.FromPersonID] = struct{}{}
		connected[edge.ToPersonID] = struct{}{}
	}

	suggestions = []domain.Person{}
	for _, candidate := range persons {
		if _, linked := connected[candidate.ID]; linked {
			continue
		}
		suggestions = append(suggestions, candidate)
	}
	domain.SortPersonsByName(suggestions)
	return suggestions, nil
}

// authorizeView resolves a person and checks view access on its tree. The
// permission check runs against the owning tree so that a denial reveals
// nothing about the person itself.
func (s *GraphService) authorizeView(ctx context.Context, personID, userID string) (*domain.Person, error) {
	person, err := s.repos.Persons.FindByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("finding person: %w", err)
	}
	if person == nil {
		return nil, domain.NotFoundError{Entity: domain.EntityPerson, ID: personID}
	}
	if !s.perms.CanAccess(ctx, userID, person.TreeID, domain.ActionViewTree) {
		return nil, domain.PermissionError{Action: domain.ActionViewTree}
	}
	return person, nil
}

// edgeEndpoints maps edges to the endpoint opposite selfID, deduplicated in
// edge order.
func edgeEndpoints(edges []domain.Relationship, selfID string) []string {
	out := make([]string, 0, len(edges))
	seen := make(map[string]struct{}, len(edges))
	for _, edge := range edges {
		other := edge.FromPersonID
		if other == selfID {
			other = edge.ToPersonID
		}
		if other == selfID {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out
}

func pickPersons(byID map[string]domain.Person, ids []string) []domain.Person {
	out := make([]domain.Person, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
