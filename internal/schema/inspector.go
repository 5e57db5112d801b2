// Package schema derives cheap, throwaway descriptions of data files: column
// schemas with sampled values, semantic hints, and cross-file column
// correspondences. Results are recomputed per job; nothing here persists.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
	"github.com/fairyhunter13/ai-data-analyst/internal/loader"
)

// DefaultHeadRows is how many data rows a schema read samples.
const DefaultHeadRows = 5

// maxSampleValues bounds the per-column examples carried into prompts.
const maxSampleValues = 5

// ColumnSchema describes one column of one file.
type ColumnSchema struct {
	Name         string
	InferredType loader.ColType
	SampleValues []string
}

// SemanticHint pairs a column with the natural-language synonyms a user might
// use to refer to it.
type SemanticHint struct {
	Column   string
	Synonyms []string
}

// Schema is the derived description of a single DataFile.
type Schema struct {
	File             string
	Format           string
	RowCountEstimate int // -1 when unknown without a full parse
	Columns          []ColumnSchema
	Hints            []SemanticHint
}

// Inspector enumerates the data directory and computes Schemas through
// head-only loads.
type Inspector struct {
	Loader   *loader.Loader
	DataDir  string
	HeadRows int
}

// NewInspector constructs an Inspector over a data directory.
func NewInspector(l *loader.Loader, dataDir string) *Inspector {
	return &Inspector{Loader: l, DataDir: dataDir, HeadRows: DefaultHeadRows}
}

// ListFiles returns every supported data file in the flat data directory.
func (in *Inspector) ListFiles() ([]domain.DataFile, error) {
	entries, err := os.ReadDir(in.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("op=schema.list dir=%s: %w", in.DataDir, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=schema.list: %w", err)
	}
	var files []domain.DataFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		format := loader.FormatForName(e.Name())
		if format == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, domain.DataFile{
			Name:   e.Name(),
			Size:   info.Size(),
			MTime:  info.ModTime(),
			Format: format,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Inspect computes the Schema of one named file.
func (in *Inspector) Inspect(name string) (Schema, error) {
	path := filepath.Join(in.DataDir, filepath.Base(name))
	head, err := in.Loader.LoadHead(path, in.HeadRows)
	if err != nil {
		return Schema{}, err
	}
	s := Schema{
		File:             filepath.Base(name),
		Format:           loader.FormatForName(name),
		RowCountEstimate: estimateRows(path),
	}
	for i, col := range head.Columns {
		cs := ColumnSchema{Name: col, InferredType: head.Types[i]}
		for _, row := range head.Rows {
			if len(cs.SampleValues) >= maxSampleValues {
				break
			}
			if i < len(row) && row[i] != loader.Missing {
				cs.SampleValues = append(cs.SampleValues, row[i])
			}
		}
		s.Columns = append(s.Columns, cs)
		if syns := synonymsFor(col); len(syns) > 0 {
			s.Hints = append(s.Hints, SemanticHint{Column: col, Synonyms: syns})
		}
	}
	return s, nil
}

// InspectAll computes Schemas for every file in the data directory. Files the
// loader rejects are skipped; a directory where every file fails yields an
// empty slice, not an error.
func (in *Inspector) InspectAll() ([]Schema, error) {
	files, err := in.ListFiles()
	if err != nil {
		return nil, err
	}
	var out []Schema
	for _, f := range files {
		s, err := in.Inspect(f.Name)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Correspondences groups columns across files by their dominant semantic
// concept: {price: ["fileA.csv:Ticket_Cost", "fileB.json:revenue"]}. Columns
// matching no concept are omitted here and appear only under their file.
func Correspondences(schemas []Schema) map[string][]string {
	groups := map[string][]string{}
	for _, s := range schemas {
		for _, col := range s.Columns {
			if concept := dominantConcept(col.Name); concept != "" {
				groups[concept] = append(groups[concept], s.File+":"+col.Name)
			}
		}
	}
	return groups
}

// estimateRows counts newline-delimited records for text formats without
// parsing them; binary and structured formats report unknown (-1).
func estimateRows(path string) int {
	switch loader.FormatForName(path) {
	case "csv", "tsv", "txt":
	default:
		return -1
	}
	f, err := os.Open(path)
	if err != nil {
		return -1
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, 64*1024)
	lines := 0
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				lines++
			}
		}
		if err != nil {
			break
		}
	}
	if lines == 0 {
		return 0
	}
	// minus header row
	return lines - 1
}
