package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"kincore/pkg/domain"
)

// gedcomDateLayout follows the GEDCOM 5.5.1 exact date form.
const gedcomDateLayout = "2 Jan 2006"

// renderGEDCOM encodes a tree snapshot as a GEDCOM 5.5.1 document. Individual
// records come first in person sort order, followed by family records derived
// from spouse pairs and parent edges.
func renderGEDCOM(snap treeSnapshot) []byte {
	buf := &strings.Builder{}
	line := func(level int, tag, value string) {
		fmt.Fprintf(buf, "%d %s", level, tag)
		if value != "" {
			buf.WriteString(" ")
			buf.WriteString(value)
		}
		buf.WriteString("\n")
	}

	line(0, "HEAD", "")
	line(1, "SOUR", "kincore")
	line(1, "GEDC", "")
	line(2, "VERS", "5.5.1")
	line(2, "FORM", "LINEAGE-LINKED")
	line(1, "CHAR", "UTF-8")
	line(1, "DATE", strings.ToUpper(snap.ExportedAt.Format(gedcomDateLayout)))

	xref := make(map[string]string, len(snap.Persons))
	for i, person := range snap.Persons {
		xref[person.ID] = fmt.Sprintf("@I%d@", i+1)
	}

	for _, person := range snap.Persons {
		line(0, xref[person.ID], "INDI")
		line(1, "NAME", fmt.Sprintf("%s /%s/", person.FirstName, person.LastName))
		if sex := gedcomSex(person.Gender); sex != "" {
			line(1, "SEX", sex)
		}
		writeEvent(line, "BIRT", person.BirthDate)
		writeEvent(line, "DEAT", person.DeathDate)
	}

	for i, fam := range buildFamilies(snap) {
		famRef := fmt.Sprintf("@F%d@", i+1)
		line(0, famRef, "FAM")
		for _, parentID := range fam.parents {
			ref, ok := xref[parentID]
			if !ok {
				continue
			}
			tag := "HUSB"
			if genderOf(snap.Persons, parentID) == domain.GenderFemale {
				tag = "WIFE"
			}
			line(1, tag, ref)
		}
		for _, childID := range fam.children {
			if ref, ok := xref[childID]; ok {
				line(1, "CHIL", ref)
			}
		}
	}

	line(0, "TRLR", "")
	return []byte(buf.String())
}

func writeEvent(line func(int, string, string), tag string, date *time.Time) {
	if date == nil {
		return
	}
	line(1, tag, "")
	line(2, "DATE", strings.ToUpper(date.Format(gedcomDateLayout)))
}

func gedcomSex(g domain.Gender) string {
	switch g {
	case domain.GenderMale:
		return "M"
	case domain.GenderFemale:
		return "F"
	default:
		return ""
	}
}

func genderOf(persons []domain.Person, id string) domain.Gender {
	for _, p := range persons {
		if p.ID == id {
			return p.Gender
		}
	}
	return ""
}

type family struct {
	key      string
	parents  []string
	children []string
}

// buildFamilies groups spouse pairs and parent edges into family records.
// Each spouse pair forms one family holding the children both spouses share;
// a parent without a recorded spouse forms a single-parent family.
func buildFamilies(snap treeSnapshot) []family {
	childrenOf := make(map[string][]string)
	for _, rel := range snap.Relationships {
		if rel.Type.IsParent() {
			childrenOf[rel.FromPersonID] = append(childrenOf[rel.FromPersonID], rel.ToPersonID)
		}
	}

	families := make(map[string]*family)
	paired := make(map[string]bool)
	for _, rel := range snap.Relationships {
		if rel.Type != domain.RelationshipSpouse {
			continue
		}
		a, b := rel.FromPersonID, rel.ToPersonID
		if a > b {
			a, b = b, a
		}
		key := a + "|" + b
		if _, ok := families[key]; ok {
			continue
		}
		fam := &family{key: key, parents: []string{a, b}}
		fam.children = sharedChildren(childrenOf[a], childrenOf[b])
		families[key] = fam
		paired[a], paired[b] = true, true
	}

	for parentID, children := range childrenOf {
		if paired[parentID] || len(children) == 0 {
			continue
		}
		key := "single|" + parentID
		sorted := append([]string(nil), children...)
		sort.Strings(sorted)
		families[key] = &family{key: key, parents: []string{parentID}, children: sorted}
	}

	out := make([]family, 0, len(families))
	for _, fam := range families {
		out = append(out, *fam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func sharedChildren(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}
	var out []string
	for _, id := range a {
		if inB[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
