package diffcells

import (
	"fmt"
	"regexp"
	"strconv"
)

// externalRefToken matches a cross-workbook reference in formula text:
// [n]SheetName! where n indexes the document's external-link table.
var externalRefToken = regexp.MustCompile(`\[(\d+)\]([^!\[\]]+)!`)

// EnrichExternalRefs returns a copy of changes with each [n]Name! token
// in the formula fields prefixed by a [external<n>: <path>] annotation
// drawn from refs. Tokens with no mapping pass through unchanged, and
// formulas without tokens come back identical, so enrichment is
// idempotent on them. Only the reported changes are rewritten; the
// persisted baseline keeps raw formulas.
func EnrichExternalRefs(changes []Change, refs map[int]string) []Change {
	if len(refs) == 0 || len(changes) == 0 {
		return changes
	}

	out := make([]Change, len(changes))
	for i, c := range changes {
		c.OldFormula = annotate(c.OldFormula, refs)
		c.NewFormula = annotate(c.NewFormula, refs)
		out[i] = c
	}
	return out
}

func annotate(formula string, refs map[int]string) string {
	if formula == "" {
		return formula
	}
	return externalRefToken.ReplaceAllStringFunc(formula, func(token string) string {
		sub := externalRefToken.FindStringSubmatch(token)
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return token
		}
		href, ok := refs[n]
		if !ok {
			return token
		}
		return fmt.Sprintf("[external%d: %s]%s", n, href, token)
	})
}
