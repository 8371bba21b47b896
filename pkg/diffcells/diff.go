// Package diffcells computes semantic per-cell diffs between a stored
// baseline and a freshly-read cell model, suppresses non-semantic churn,
// and annotates cross-workbook references in the reported formulas.
package diffcells

import (
	"sort"

	"github.com/ckcm0210/watchdog/pkg/baseline"
	"github.com/ckcm0210/watchdog/pkg/cellmodel"
)

// Change is one cell-level difference. All four formula/value fields may
// independently be absent.
type Change struct {
	Worksheet  string `json:"worksheet"`
	Coordinate string `json:"coordinate"`
	OldFormula string `json:"old_formula,omitempty"`
	OldValue   string `json:"old_value,omitempty"`
	NewFormula string `json:"new_formula,omitempty"`
	NewValue   string `json:"new_value,omitempty"`
}

// Diff returns the cell changes between a stored baseline and the
// current model. The fingerprint fast path makes the diff empty without
// cell inspection when content is unchanged.
//
// Candidates whose formula text is identical and non-empty on both sides
// are dropped: the value slot of a formula cell is not trusted, so two
// readings of the same stored array formula always compare equal.
func Diff(stored *baseline.Baseline, current *cellmodel.Model) []Change {
	if stored == nil || stored.Cells == nil {
		return diffModels(cellmodel.NewModel(), current)
	}
	if stored.ContentHash == cellmodel.Fingerprint(current) {
		return nil
	}
	return diffModels(stored.Cells, current)
}

func diffModels(old, new *cellmodel.Model) []Change {
	var changes []Change

	for _, name := range unionSheets(old, new) {
		oldSheet := old.Sheet(name)
		newSheet := new.Sheet(name)

		for _, coord := range unionCoords(oldSheet, newSheet) {
			oldEntry := oldSheet[coord]
			newEntry := newSheet[coord]

			if oldEntry == newEntry {
				continue
			}
			// Identical non-empty formula text on both sides means the
			// value difference is reader noise, not content.
			if oldEntry.Formula != "" && oldEntry.Formula == newEntry.Formula {
				continue
			}

			changes = append(changes, Change{
				Worksheet:  name,
				Coordinate: coord,
				OldFormula: oldEntry.Formula,
				OldValue:   oldEntry.Value,
				NewFormula: newEntry.Formula,
				NewValue:   newEntry.Value,
			})
		}
	}
	return changes
}

func unionSheets(a, b *cellmodel.Model) []string {
	seen := make(map[string]bool)
	for _, n := range a.SheetNames() {
		seen[n] = true
	}
	for _, n := range b.SheetNames() {
		seen[n] = true
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func unionCoords(a, b cellmodel.Sheet) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for c := range a {
		seen[c] = true
	}
	for c := range b {
		seen[c] = true
	}

	coords := make([]string, 0, len(seen))
	for c := range seen {
		coords = append(coords, c)
	}
	sort.Strings(coords)
	return coords
}
