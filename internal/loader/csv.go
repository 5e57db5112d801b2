package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

// loadDelimited parses separator-delimited text with a header row. Used for
// CSV, TSV and TXT after delimiter detection.
func loadDelimited(path string, sep rune, headRows int) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("op=loader.csv: %w", err)
	}
	defer func() { _ = f.Close() }()
	fr, err := readDelimited(f, sep, headRows)
	if err != nil {
		return nil, fmt.Errorf("op=loader.csv file=%s: %w: %v", filepath.Base(path), domain.ErrMalformedCSV, err)
	}
	return fr, nil
}

func readDelimited(r io.Reader, sep rune, headRows int) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty file")
		}
		return nil, err
	}
	columns := make([]string, len(header))
	copy(columns, header)

	var rows [][]string
	for headRows < 0 || len(rows) < headRows {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]string, len(rec))
		copy(row, rec)
		rows = append(rows, row)
	}
	return normalize(columns, rows), nil
}
