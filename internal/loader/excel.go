package loader

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

// loadExcel reads the first worksheet of a workbook. The first non-empty row
// is the header; trailing all-blank rows are trimmed.
func loadExcel(path string, headRows int) (*Frame, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=loader.excel file=%s: %w: %v", filepath.Base(path), domain.ErrMalformedExcel, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("op=loader.excel file=%s: %w: workbook has no sheets", filepath.Base(path), domain.ErrMalformedExcel)
	}
	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("op=loader.excel file=%s: %w: %v", filepath.Base(path), domain.ErrMalformedExcel, err)
	}

	// Header = first non-empty row.
	start := -1
	for i, row := range raw {
		if !blankRow(row) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("op=loader.excel file=%s: %w: sheet is empty", filepath.Base(path), domain.ErrMalformedExcel)
	}
	columns := append([]string(nil), raw[start]...)

	// Trim trailing blank rows.
	end := len(raw)
	for end > start+1 && blankRow(raw[end-1]) {
		end--
	}

	var rows [][]string
	for _, row := range raw[start+1 : end] {
		if headRows >= 0 && len(rows) >= headRows {
			break
		}
		rows = append(rows, append([]string(nil), row...))
	}
	return normalize(columns, rows), nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
