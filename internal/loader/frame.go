// Package loader turns heterogeneous tabular files into a single in-memory
// shape. It is the only layer allowed to interpret data-file bytes; everything
// above consumes Frames.
package loader

// Missing is the single sentinel for null/absent cells. No format-specific
// residue (NaN, "null", "-") survives into a Frame.
const Missing = ""

// ColType is a column's inferred type.
type ColType string

const (
	TypeInteger ColType = "integer"
	TypeReal    ColType = "real"
	TypeText    ColType = "text"
	TypeDate    ColType = "date"
	TypeBoolean ColType = "boolean"
)

// Frame is the unified row-oriented table every loader produces. Column names
// are preserved as seen in the source; cell values are stringified uniformly.
type Frame struct {
	Columns []string
	Types   []ColType
	Rows    [][]string
}

// NumRows returns the number of data rows.
func (f *Frame) NumRows() int { return len(f.Rows) }

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.Columns) }

// ColumnIndex returns the position of a named column, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns all values of the named column in row order.
func (f *Frame) Column(name string) []string {
	i := f.ColumnIndex(name)
	if i < 0 {
		return nil
	}
	out := make([]string, 0, len(f.Rows))
	for _, r := range f.Rows {
		if i < len(r) {
			out = append(out, r[i])
		} else {
			out = append(out, Missing)
		}
	}
	return out
}

// Head returns a copy of the frame truncated to at most n rows.
func (f *Frame) Head(n int) *Frame {
	if n < 0 || n > len(f.Rows) {
		n = len(f.Rows)
	}
	h := &Frame{
		Columns: append([]string(nil), f.Columns...),
		Types:   append([]ColType(nil), f.Types...),
		Rows:    make([][]string, n),
	}
	for i := 0; i < n; i++ {
		h.Rows[i] = append([]string(nil), f.Rows[i]...)
	}
	return h
}

// normalize pads or trims rows to the column count and applies type inference.
// Every loader funnels through here so all Frames share the same guarantees.
func normalize(columns []string, rows [][]string) *Frame {
	w := len(columns)
	for i, r := range rows {
		switch {
		case len(r) < w:
			padded := make([]string, w)
			copy(padded, r)
			for j := len(r); j < w; j++ {
				padded[j] = Missing
			}
			rows[i] = padded
		case len(r) > w:
			rows[i] = r[:w]
		}
	}
	f := &Frame{Columns: columns, Rows: rows}
	f.Types = inferColumnTypes(f)
	return f
}
