package loader

import (
	"strconv"
	"strings"
	"time"
)

// inferSampleRows bounds the per-column vote so inference stays cheap on wide
// loads; the head rows are representative enough for prompting purposes.
const inferSampleRows = 200

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	time.RFC3339,
}

func classifyCell(v string) ColType {
	s := strings.TrimSpace(v)
	if s == Missing {
		return ""
	}
	// Priority: integer > real > date > boolean > text.
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return TypeInteger
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return TypeReal
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return TypeDate
		}
	}
	switch strings.ToLower(s) {
	case "true", "false", "yes", "no":
		return TypeBoolean
	}
	return TypeText
}

// inferColumnTypes votes per column over sampled rows. Pure integer columns
// stay integer; integer/real mixes widen to real; any other disagreement
// falls back to text.
func inferColumnTypes(f *Frame) []ColType {
	types := make([]ColType, len(f.Columns))
	limit := len(f.Rows)
	if limit > inferSampleRows {
		limit = inferSampleRows
	}
	for col := range f.Columns {
		counts := map[ColType]int{}
		total := 0
		for row := 0; row < limit; row++ {
			if col >= len(f.Rows[row]) {
				continue
			}
			c := classifyCell(f.Rows[row][col])
			if c == "" {
				continue
			}
			counts[c]++
			total++
		}
		types[col] = voteType(counts, total)
	}
	return types
}

func voteType(counts map[ColType]int, total int) ColType {
	if total == 0 {
		return TypeText
	}
	// Numeric widening before the vote.
	if counts[TypeInteger]+counts[TypeReal] == total {
		if counts[TypeReal] > 0 {
			return TypeReal
		}
		return TypeInteger
	}
	for _, t := range []ColType{TypeInteger, TypeReal, TypeDate, TypeBoolean, TypeText} {
		if counts[t] == total {
			return t
		}
	}
	// Majority wins; conflicts without a strict majority collapse to text.
	for _, t := range []ColType{TypeInteger, TypeReal, TypeDate, TypeBoolean} {
		if counts[t]*2 > total {
			return t
		}
	}
	return TypeText
}
