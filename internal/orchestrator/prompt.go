package orchestrator

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
	"github.com/fairyhunter13/ai-data-analyst/internal/schema"
)

// promptReserveTokens is held back from the context window for the model's
// replies and the observation turns appended during the loop.
const promptReserveTokens = 2048

var inflationCues = []string{
	"inflation",
	"adjust",
	"adjusted",
	"real terms",
	"today's dollars",
	"current dollars",
	"purchasing power",
	"cpi",
}

// needsInflation reports whether the question calls for the inflation table.
func needsInflation(question string) bool {
	q := strings.ToLower(question)
	for _, cue := range inflationCues {
		if strings.Contains(q, cue) {
			return true
		}
	}
	return false
}

// promptInput carries everything the system prompt is assembled from.
type promptInput struct {
	Question         string
	PrimaryFile      string
	Files            []domain.DataFile
	Schemas          []schema.Schema
	InflationSummary string
	ContextTokens    int
}

// buildSystemPrompt renders the full analysis briefing: the file listing, the
// schema summary with semantic hints, the normalization guide when several
// files are in play, the inflation block when the question calls for it, and
// the execution rules the generated code must follow.
func buildSystemPrompt(in promptInput) string {
	var b strings.Builder
	b.WriteString("You are a data analyst. You answer questions about tabular data files by writing Python code.\n\n")

	b.WriteString("AVAILABLE FILES\n")
	for _, f := range in.Files {
		fmt.Fprintf(&b, "- %s (%s, %d bytes)\n", f.Name, f.Format, f.Size)
	}
	if in.PrimaryFile != "" {
		fmt.Fprintf(&b, "\nThe user indicated %s as the primary file for this question.\n", in.PrimaryFile)
	}

	b.WriteString("\n")
	b.WriteString(schema.Summary(in.Schemas))
	if len(in.Schemas) >= 2 {
		b.WriteString("\n")
		b.WriteString(schema.NormalizationGuide(in.Schemas))
	}
	if in.InflationSummary != "" {
		b.WriteString("\nINFLATION REFERENCE\n")
		b.WriteString(in.InflationSummary)
	}

	b.WriteString(`
RULES
1. Reply with exactly one Python code block fenced as ` + "```python ... ```" + ` when computation is needed.
2. Load every table with load_file("<name>") — it is predefined and returns a pandas DataFrame with a uniform missing-value sentinel. Never parse files by hand.
3. Print intermediate results you want to inspect; the stdout, stderr and final expression value come back to you as an observation.
4. When you have the answer, reply with plain text only (no code block) stating the answer in one or two sentences, including the computed numbers.
5. If an observation shows an error, correct the code and try again.
`)
	return fitTokenBudget(b.String(), in)
}

// fitTokenBudget trims the prompt to the model's context window, dropping the
// cheapest context first: sample values, then the normalization guide.
func fitTokenBudget(prompt string, in promptInput) string {
	budget := in.ContextTokens - promptReserveTokens
	if budget <= 0 || countTokens(prompt) <= budget {
		return prompt
	}
	// Rebuild without sample values.
	slim := in
	slim.Schemas = make([]schema.Schema, len(in.Schemas))
	for i, s := range in.Schemas {
		cs := s
		cs.Columns = make([]schema.ColumnSchema, len(s.Columns))
		for j, c := range s.Columns {
			c.SampleValues = nil
			cs.Columns[j] = c
		}
		slim.Schemas[i] = cs
	}
	slim.ContextTokens = 0 // avoid recursing
	prompt = buildSystemPrompt(slim)
	if countTokens(prompt) <= budget {
		return prompt
	}
	// Last resort: hard truncation on a rune boundary, keeping the RULES tail.
	return truncateTokens(prompt, budget)
}

func countTokens(s string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Fall back to a coarse byte heuristic if the encoding is unavailable.
		return len(s) / 4
	}
	return len(enc.Encode(s, nil, nil))
}

func truncateTokens(s string, budget int) string {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		max := budget * 4
		if len(s) > max {
			return s[:max]
		}
		return s
	}
	toks := enc.Encode(s, nil, nil)
	if len(toks) <= budget {
		return s
	}
	return enc.Decode(toks[:budget])
}

// observation renders one execution result as the next user turn.
func observation(round int, res domain.ExecResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution result (round %d):\nexit_status: %d\n", round, res.ExitStatus)
	if res.Stdout != "" {
		fmt.Fprintf(&b, "stdout:\n%s\n", res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", res.Stderr)
	}
	if res.FinalValue != "" {
		fmt.Fprintf(&b, "final value: %s\n", res.FinalValue)
	}
	if res.ExitStatus != 0 {
		b.WriteString("The code raised an error. Correct it and reply with a fixed code block.\n")
	} else {
		b.WriteString("If this answers the question, reply with plain text only. Otherwise continue with another code block.\n")
	}
	return b.String()
}
