package schema

import (
	"fmt"
	"strings"
)

// Summary renders per-file schemas as a compact block for model prompts.
func Summary(schemas []Schema) string {
	if len(schemas) == 0 {
		return "No data files found."
	}
	var b strings.Builder
	b.WriteString("DATA SCHEMA ANALYSIS\n")
	for _, s := range schemas {
		rows := "unknown"
		if s.RowCountEstimate >= 0 {
			rows = fmt.Sprintf("%d", s.RowCountEstimate)
		}
		fmt.Fprintf(&b, "\nFile: %s (%s) rows=%s columns=%d\n", s.File, s.Format, rows, len(s.Columns))
		for _, c := range s.Columns {
			fmt.Fprintf(&b, "  - %s (%s)", c.Name, c.InferredType)
			if len(c.SampleValues) > 0 {
				fmt.Fprintf(&b, " e.g. %s", strings.Join(c.SampleValues, ", "))
			}
			b.WriteString("\n")
		}
		for _, h := range s.Hints {
			fmt.Fprintf(&b, "  hint: users may call %q: %s\n", h.Column, strings.Join(h.Synonyms, ", "))
		}
	}
	return b.String()
}

// NormalizationGuide describes per-file schemas plus cross-file column
// groupings, formatted for inclusion in a model prompt when two or more files
// are in play.
func NormalizationGuide(schemas []Schema) string {
	var b strings.Builder
	b.WriteString("DATA NORMALIZATION GUIDE\n")
	b.WriteString(Summary(schemas))

	groups := Correspondences(schemas)
	wrote := false
	for _, concept := range conceptOrder {
		cols, ok := groups[concept]
		if !ok || len(cols) < 2 {
			continue
		}
		if !wrote {
			b.WriteString("\nLikely equivalent columns across files:\n")
			wrote = true
		}
		fmt.Fprintf(&b, "  %s: %s\n", concept, strings.Join(cols, ", "))
	}

	b.WriteString(`
When combining files:
 1. Rename equivalent columns to one shared name before concatenating.
 2. Coerce equivalent columns to one type (numbers as float, dates parsed).
 3. Standardize string values (trim, consistent case) before grouping.
 4. Add missing columns to each table so all tables share the same columns.
 5. Only concatenate after the schemas line up.
`)
	return b.String()
}
