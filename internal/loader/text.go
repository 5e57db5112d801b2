package loader

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

// txtCandidates are scored in this order; earlier wins a tie.
var txtCandidates = []rune{',', '\t', '|', ';'}

// txtSniffLines bounds how much of the file delimiter detection reads.
const txtSniffLines = 20

// loadText auto-detects the delimiter of a .txt file by scoring candidate
// separators over the first lines: the delimiter producing the highest
// consistent per-line field count wins. No consistent candidate means the
// file is treated as a single text column.
func loadText(path string, headRows int) (*Frame, error) {
	sep, ok, err := detectDelimiter(path)
	if err != nil {
		return nil, err
	}
	if ok {
		return loadDelimited(path, sep, headRows)
	}
	return loadSingleColumn(path, headRows)
}

func detectDelimiter(path string) (rune, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("op=loader.txt: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() && len(lines) < txtSniffLines {
		if line := sc.Text(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return 0, false, fmt.Errorf("op=loader.txt: %w", err)
	}
	if len(lines) == 0 {
		return 0, false, fmt.Errorf("op=loader.txt: %w: empty file", domain.ErrMalformedCSV)
	}

	best := rune(0)
	bestCount := 0
	for _, cand := range txtCandidates {
		count := strings.Count(lines[0], string(cand))
		if count == 0 {
			continue
		}
		uniform := true
		for _, line := range lines[1:] {
			if strings.Count(line, string(cand)) != count {
				uniform = false
				break
			}
		}
		if uniform && count > bestCount {
			best = cand
			bestCount = count
		}
	}
	return best, bestCount > 0, nil
}

// loadSingleColumn is the fallback: header is the first line, every further
// line is one value.
func loadSingleColumn(path string, headRows int) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("op=loader.txt: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	var columns []string
	var rows [][]string
	for sc.Scan() {
		line := sc.Text()
		if columns == nil {
			columns = []string{strings.TrimSpace(line)}
			continue
		}
		if headRows >= 0 && len(rows) >= headRows {
			break
		}
		rows = append(rows, []string{line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("op=loader.txt: %w", err)
	}
	if columns == nil {
		return nil, fmt.Errorf("op=loader.txt: %w: empty file", domain.ErrMalformedCSV)
	}
	return normalize(columns, rows), nil
}
