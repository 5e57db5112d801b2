package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

// DefaultMaxBytes caps raw file size before any parsing begins (100 MiB).
const DefaultMaxBytes = 100 << 20

// supportedExtensions is the single dispatch table; adding a format means
// adding an entry here.
var supportedExtensions = map[string]string{
	".csv":  "csv",
	".tsv":  "tsv",
	".json": "json",
	".xlsx": "xlsx",
	".xls":  "xls",
	".txt":  "txt",
}

// FormatForName returns the format derived from a filename's extension, or ""
// when the extension is not supported.
func FormatForName(name string) string {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Loader produces Frames from files on disk.
type Loader struct {
	// MaxBytes rejects oversized files before parsing; zero means DefaultMaxBytes.
	MaxBytes int64
}

// New constructs a Loader with the given size ceiling.
func New(maxBytes int64) *Loader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{MaxBytes: maxBytes}
}

// Load parses the whole file into a Frame.
func (l *Loader) Load(path string) (*Frame, error) {
	return l.load(path, -1)
}

// LoadHead parses at most n data rows. Callers wanting a cheap schema read use
// this instead of truncating a full Frame.
func (l *Loader) LoadHead(path string, n int) (*Frame, error) {
	if n < 0 {
		n = 0
	}
	return l.load(path, n)
}

func (l *Loader) load(path string, headRows int) (*Frame, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("op=loader.load file=%s: %w", filepath.Base(path), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=loader.load: %w", err)
	}
	if st.Size() > l.MaxBytes {
		return nil, fmt.Errorf("op=loader.load file=%s size=%d limit=%d: %w",
			filepath.Base(path), st.Size(), l.MaxBytes, domain.ErrFileTooLarge)
	}

	format := FormatForName(path)
	if format == "" {
		return nil, fmt.Errorf("op=loader.load file=%s ext=%q: %w",
			filepath.Base(path), filepath.Ext(path), domain.ErrUnsupportedFormat)
	}
	format = l.sniffOverride(path, format)

	switch format {
	case "csv":
		return loadDelimited(path, ',', headRows)
	case "tsv":
		return loadDelimited(path, '\t', headRows)
	case "json":
		return loadJSON(path, headRows)
	case "xlsx", "xls":
		return loadExcel(path, headRows)
	case "txt":
		return loadText(path, headRows)
	default:
		return nil, fmt.Errorf("op=loader.load format=%s: %w", format, domain.ErrUnsupportedFormat)
	}
}

// sniffOverride lets file content win over a lying extension. A .txt that is
// really JSON routes to the JSON loader; a .xls that is really an OOXML
// workbook routes to the xlsx reader.
func (l *Loader) sniffOverride(path, format string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return format
	}
	switch {
	case format == "txt" && m.Is("application/json"):
		return "json"
	case format == "xls" && m.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
		return "xlsx"
	}
	return format
}
