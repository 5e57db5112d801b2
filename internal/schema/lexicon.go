package schema

import (
	_ "embed"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var lexiconYAML []byte

type lexiconFile struct {
	Concepts map[string][]string `yaml:"concepts"`
}

// conceptOrder fixes the reporting order so guides are stable across runs.
var conceptOrder = []string{"price", "date", "location", "attendance", "revenue", "event", "name", "quantity"}

var lexicon map[string][]string

func init() {
	var lf lexiconFile
	if err := yaml.Unmarshal(lexiconYAML, &lf); err != nil {
		panic("schema: embedded lexicon is invalid: " + err.Error())
	}
	lexicon = lf.Concepts
}

// normalizeTokens lowercases a column name and splits it on every
// non-alphanumeric rune.
func normalizeTokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// conceptsFor returns the concepts whose synonym sets overlap the column
// name's tokens, ordered by overlap count then lexicon order. An empty result
// means the column carries no recognized semantics.
func conceptsFor(column string) []string {
	tokens := normalizeTokens(column)
	if len(tokens) == 0 {
		return nil
	}
	overlap := map[string]int{}
	for _, concept := range conceptOrder {
		for _, syn := range lexicon[concept] {
			for _, tok := range tokens {
				if tok == syn {
					overlap[concept]++
				}
			}
		}
	}
	var matched []string
	for _, c := range conceptOrder {
		if overlap[c] > 0 {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return overlap[matched[i]] > overlap[matched[j]]
	})
	return matched
}

// synonymsFor returns the union of synonym sets of every concept matching the
// column name, preserving lexicon order and deduplicating.
func synonymsFor(column string) []string {
	var out []string
	seen := map[string]bool{}
	for _, concept := range conceptsFor(column) {
		for _, syn := range lexicon[concept] {
			if !seen[syn] {
				seen[syn] = true
				out = append(out, syn)
			}
		}
	}
	return out
}

// dominantConcept returns the best-matching concept for a column, or "".
func dominantConcept(column string) string {
	matched := conceptsFor(column)
	if len(matched) == 0 {
		return ""
	}
	return matched[0]
}
