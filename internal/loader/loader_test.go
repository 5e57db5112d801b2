package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// writeXLSX builds a single-sheet workbook from header + rows.
func writeXLSX(t *testing.T, dir, name string, header []string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, h))
	}
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestLoadCSVBasic(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "events.csv",
		"Event_Name,Attendance,Avg_Price\nGala,1200,110.92\nFair,800,127.24\n")

	f, err := New(0).Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Event_Name", "Attendance", "Avg_Price"}, f.Columns)
	assert.Equal(t, []ColType{TypeText, TypeInteger, TypeReal}, f.Types)
	require.Equal(t, 2, f.NumRows())
	assert.Equal(t, []string{"Gala", "1200", "110.92"}, f.Rows[0])
}

func TestLoadRaggedCSVPadsWithMissing(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "ragged.csv", "A,B,C\n1,2\n3,4,5,6\n")

	f, err := New(0).Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, f.NumRows())
	assert.Equal(t, []string{"1", "2", Missing}, f.Rows[0])
	assert.Equal(t, []string{"3", "4", "5"}, f.Rows[1])
}

func TestLoadHeadStopsEarly(t *testing.T) {
	t.Parallel()
	body := "N\n"
	for i := 0; i < 100; i++ {
		body += fmt.Sprintf("%d\n", i)
	}
	path := writeFile(t, t.TempDir(), "long.csv", body)

	f, err := New(0).LoadHead(path, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, f.NumRows())
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l := New(0)

	_, err := l.Load(filepath.Join(dir, "absent.csv"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = l.Load(writeFile(t, dir, "report.pdf", "%PDF-1.4"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = l.Load(writeFile(t, dir, "broken.json", `{"rows": [1, `))
	assert.ErrorIs(t, err, domain.ErrMalformedJSON)

	_, err = l.Load(writeFile(t, dir, "fake.xlsx", "this is not a zip archive"))
	assert.ErrorIs(t, err, domain.ErrMalformedExcel)
}

func TestLoadFileTooLargeRejectedBeforeParsing(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "big.csv", "A\n1\n2\n3\n")

	_, err := New(4).Load(path)
	assert.ErrorIs(t, err, domain.ErrFileTooLarge)
}

// All three JSON shapes must produce the same column set and row count.
func TestJSONStrategyEquivalence(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	docs := map[string]string{
		"array.json":   `[{"event":"Gala","revenue":500},{"event":"Fair","revenue":1500}]`,
		"wrapped.json": `{"generated":"2026-01-01","records":[{"event":"Gala","revenue":500},{"event":"Fair","revenue":1500}]}`,
		"ndjson.json":  "{\"event\":\"Gala\",\"revenue\":500}\n{\"event\":\"Fair\",\"revenue\":1500}\n",
	}
	l := New(0)
	for name, body := range docs {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f, err := l.Load(writeFile(t, dir, name, body))
			require.NoError(t, err)
			assert.Equal(t, []string{"event", "revenue"}, f.Columns)
			require.Equal(t, 2, f.NumRows())
			assert.Equal(t, []string{"Gala", "500"}, f.Rows[0])
		})
	}
}

func TestJSONWrappedRequiresExactlyOneArrayField(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "two.json", `{"a":[{"x":1}],"b":[{"y":2}]}`)

	_, err := New(0).Load(path)
	assert.ErrorIs(t, err, domain.ErrMalformedJSON)
}

func TestJSONNullsBecomeMissing(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "nulls.json", `[{"a":1,"b":null},{"a":null,"b":"x"}]`)

	f, err := New(0).Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", Missing}, f.Rows[0])
	assert.Equal(t, []string{Missing, "x"}, f.Rows[1])
}

func TestTXTDelimiterDetection(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l := New(0)
	for name, sep := range map[string]string{
		"comma.txt": ",", "pipe.txt": "|", "tab.txt": "\t", "semi.txt": ";",
	} {
		name, sep := name, sep
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			body := "A" + sep + "B" + sep + "C\n1" + sep + "2" + sep + "3\n4" + sep + "5" + sep + "6\n"
			f, err := l.Load(writeFile(t, dir, name, body))
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B", "C"}, f.Columns)
			assert.Equal(t, 2, f.NumRows())
		})
	}
}

func TestTXTFallsBackToSingleColumn(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "prose.txt", "first line\nsecond line\nthird line\n")

	f, err := New(0).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, f.NumCols())
	assert.Equal(t, 2, f.NumRows()) // first line is the header
}

func TestTXTThatIsJSONIsSniffed(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "data.txt", `[{"a":1},{"a":2}]`)

	f, err := New(0).Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, f.Columns)
	assert.Equal(t, 2, f.NumRows())
}

func TestXLSXFirstSheetWithTrailingBlanksTrimmed(t *testing.T) {
	t.Parallel()
	path := writeXLSX(t, t.TempDir(), "book.xlsx",
		[]string{"Avg_Price"}, [][]any{{110.92}, {127.24}, {}, {}})

	f, err := New(0).Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Avg_Price"}, f.Columns)
	assert.Equal(t, 2, f.NumRows())
}

// The same table in every format yields identical Frames.
func TestCrossFormatEquivalence(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l := New(0)

	wantCols := []string{"Event", "Revenue"}
	wantRows := [][]string{{"Gala", "1000"}, {"Fair", "2000"}}

	paths := []string{
		writeFile(t, dir, "t.csv", "Event,Revenue\nGala,1000\nFair,2000\n"),
		writeFile(t, dir, "t.tsv", "Event\tRevenue\nGala\t1000\nFair\t2000\n"),
		writeFile(t, dir, "t.json", `[{"Event":"Gala","Revenue":1000},{"Event":"Fair","Revenue":2000}]`),
		writeXLSX(t, dir, "t.xlsx", wantCols, [][]any{{"Gala", 1000}, {"Fair", 2000}}),
	}
	for _, path := range paths {
		f, err := l.Load(path)
		require.NoError(t, err, path)
		assert.Equal(t, wantCols, f.Columns, path)
		assert.Equal(t, wantRows, f.Rows, path)
		assert.Equal(t, []ColType{TypeText, TypeInteger}, f.Types, path)
	}
}

func TestTypeInference(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		col  []string
		want ColType
	}{
		{"integers", []string{"1", "2", "3"}, TypeInteger},
		{"reals", []string{"1.5", "2.25"}, TypeReal},
		{"integers widen to real", []string{"1", "2.5"}, TypeReal},
		{"dates", []string{"2024-01-01", "2024-06-30"}, TypeDate},
		{"booleans", []string{"true", "false", "yes"}, TypeBoolean},
		{"mixed is text", []string{"1", "apple", "2024-01-01"}, TypeText},
		{"missing ignored", []string{"", "7", ""}, TypeInteger},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rows := make([][]string, len(tc.col))
			for i, v := range tc.col {
				rows[i] = []string{v}
			}
			f := normalize([]string{"X"}, rows)
			assert.Equal(t, tc.want, f.Types[0])
		})
	}
}
