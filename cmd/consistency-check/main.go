// Command consistency-check scans the relationship graph for invariant
// violations: one-sided spouse edges, persons with more than two parents,
// lineage cycles, duplicate edges, and edges whose endpoints live in a
// different tree. With -repair it deletes one-sided spouse edges and
// duplicate edges, the two classes that have a mechanical fix.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"kincore/internal/core"
	"kincore/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	repair := flag.Bool("repair", false, "delete one-sided spouse edges and duplicate edges")
	flag.Parse()

	repos, err := core.OpenRepositories()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open storage: %v\n", err)
		exitFunc(2)
		return
	}
	defer func() { _ = repos.Close() }()

	issues, err := run(context.Background(), repos.Repositories, *repair, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "consistency check: %v\n", err)
		exitFunc(2)
		return
	}
	if len(issues) > 0 && !*repair {
		exitFunc(1)
	}
}

// issue describes a single detected violation.
type issue struct {
	TreeID   string
	Kind     string
	EdgeID   string
	Detail   string
	Repaired bool
}

func run(ctx context.Context, repos domain.Repositories, repair bool, out io.Writer) ([]issue, error) {
	trees, err := repos.Trees.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trees: %w", err)
	}

	var issues []issue
	for _, tree := range trees {
		found, err := checkTree(ctx, repos, tree.ID, repair)
		if err != nil {
			return nil, fmt.Errorf("tree %s: %w", tree.ID, err)
		}
		issues = append(issues, found...)
	}

	for _, iss := range issues {
		status := "found"
		if iss.Repaired {
			status = "repaired"
		}
		fmt.Fprintf(out, "%s\ttree=%s\tedge=%s\t%s: %s\n", status, iss.TreeID, iss.EdgeID, iss.Kind, iss.Detail)
	}
	fmt.Fprintf(out, "checked %d trees, %d issues\n", len(trees), len(issues))
	return issues, nil
}

func checkTree(ctx context.Context, repos domain.Repositories, treeID string, repair bool) ([]issue, error) {
	edges, err := repos.Relationships.FindByTreeID(ctx, treeID)
	if err != nil {
		return nil, err
	}
	persons, err := repos.Persons.FindByTreeID(ctx, treeID)
	if err != nil {
		return nil, err
	}
	inTree := make(map[string]bool, len(persons))
	for _, p := range persons {
		inTree[p.ID] = true
	}

	var issues []issue
	report := func(kind, edgeID, detail string) *issue {
		issues = append(issues, issue{TreeID: treeID, Kind: kind, EdgeID: edgeID, Detail: detail})
		return &issues[len(issues)-1]
	}

	// One-sided spouse edges. Spouses are stored as mirrored pairs; a lone
	// direction means a partially applied write.
	spouseDirs := make(map[string]string, len(edges))
	for _, edge := range edges {
		if edge.Type == domain.RelationshipSpouse {
			spouseDirs[edge.FromPersonID+"->"+edge.ToPersonID] = edge.ID
		}
	}
	for _, edge := range edges {
		if edge.Type != domain.RelationshipSpouse {
			continue
		}
		if _, ok := spouseDirs[edge.ToPersonID+"->"+edge.FromPersonID]; !ok {
			iss := report("one_sided_spouse", edge.ID,
				fmt.Sprintf("spouse edge %s->%s has no mirror", edge.FromPersonID, edge.ToPersonID))
			if repair {
				if err := repos.Relationships.Delete(ctx, edge.ID); err != nil {
					return nil, fmt.Errorf("delete edge %s: %w", edge.ID, err)
				}
				iss.Repaired = true
			}
		}
	}

	// Duplicate edges: same endpoints and type. Keep the oldest, flag the rest.
	seen := make(map[string]string, len(edges))
	for _, edge := range edges {
		key := edge.FromPersonID + "->" + edge.ToPersonID + ":" + string(edge.Type)
		if first, ok := seen[key]; ok {
			iss := report("duplicate_edge", edge.ID,
				fmt.Sprintf("duplicates edge %s (%s)", first, key))
			if repair {
				if err := repos.Relationships.Delete(ctx, edge.ID); err != nil {
					return nil, fmt.Errorf("delete edge %s: %w", edge.ID, err)
				}
				iss.Repaired = true
			}
			continue
		}
		seen[key] = edge.ID
	}

	// Endpoints must belong to the edge's tree.
	for _, edge := range edges {
		for _, personID := range []string{edge.FromPersonID, edge.ToPersonID} {
			if !inTree[personID] {
				report("tree_mismatch", edge.ID,
					fmt.Sprintf("person %s is not in tree %s", personID, treeID))
			}
		}
	}

	// Parent counts and lineage cycles. No mechanical repair; a human has to
	// decide which edge is wrong.
	parentsOf := make(map[string][]string)
	for _, edge := range edges {
		if edge.Type.IsParent() {
			parentsOf[edge.ToPersonID] = append(parentsOf[edge.ToPersonID], edge.FromPersonID)
		}
	}
	for childID, parents := range parentsOf {
		if len(parents) > 2 {
			report("max_parents", "",
				fmt.Sprintf("person %s has %d parents", childID, len(parents)))
		}
	}
	for _, cycle := range findCycleMembers(parentsOf) {
		report("lineage_cycle", "", fmt.Sprintf("person %s is their own ancestor", cycle))
	}

	return issues, nil
}

// findCycleMembers returns persons that appear in their own ancestor closure.
func findCycleMembers(parentsOf map[string][]string) []string {
	var members []string
	for person := range parentsOf {
		visited := map[string]bool{}
		frontier := append([]string(nil), parentsOf[person]...)
		for len(frontier) > 0 {
			current := frontier[0]
			frontier = frontier[1:]
			if visited[current] {
				continue
			}
			visited[current] = true
			if current == person {
				members = append(members, person)
				frontier = nil
				break
			}
			frontier = append(frontier, parentsOf[current]...)
		}
	}
	sort.Strings(members)
	return members
}
