package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

// loadJSON handles the three JSON shapes the service accepts, tried in order:
//
//  1. top-level array of objects
//  2. top-level object wrapping exactly one array-valued field
//  3. newline-delimited objects
//
// The first non-whitespace token picks the starting strategy; all three
// failing is MalformedJson.
func loadJSON(path string, headRows int) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=loader.json: %w", err)
	}
	fr, err := parseJSONTable(data, headRows)
	if err != nil {
		return nil, fmt.Errorf("op=loader.json file=%s: %w: %v", filepath.Base(path), domain.ErrMalformedJSON, err)
	}
	return fr, nil
}

func parseJSONTable(data []byte, headRows int) (*Frame, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	switch trimmed[0] {
	case '[':
		if fr, err := parseObjectArray(trimmed, headRows); err == nil {
			return fr, nil
		}
	case '{':
		// A single object can be a wrapper around one array field, or the
		// first line of an NDJSON stream.
		if fr, err := parseWrappedArray(trimmed, headRows); err == nil {
			return fr, nil
		}
		if fr, err := parseNDJSON(data, headRows); err == nil {
			return fr, nil
		}
	}
	return nil, fmt.Errorf("no JSON strategy matched")
}

func parseObjectArray(data []byte, headRows int) (*Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var arr []map[string]any
	if err := dec.Decode(&arr); err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty array")
	}
	// Key order inside a Go map is lost; recover first-seen column order by
	// scanning the raw object text.
	columns := orderedKeys(data, arr)
	return frameFromObjects(columns, arr, headRows), nil
}

func parseWrappedArray(data []byte, headRows int) (*Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	var arrKey string
	arrCount := 0
	for k, raw := range obj {
		t := bytes.TrimLeft(raw, " \t\r\n")
		if len(t) > 0 && t[0] == '[' {
			arrKey = k
			arrCount++
		}
	}
	if arrCount != 1 {
		return nil, fmt.Errorf("want exactly one array field, have %d", arrCount)
	}
	return parseObjectArray(obj[arrKey], headRows)
}

func parseNDJSON(data []byte, headRows int) (*Frame, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	var objs []map[string]any
	var columns []string
	seen := map[string]bool{}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
		for _, k := range rawObjectKeys([]byte(line)) {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
		objs = append(objs, m)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("no objects")
	}
	return frameFromObjects(columns, objs, headRows), nil
}

// orderedKeys walks the raw array text to keep the union of keys in
// first-seen order across all objects.
func orderedKeys(data []byte, arr []map[string]any) []string {
	var columns []string
	seen := map[string]bool{}
	dec := json.NewDecoder(bytes.NewReader(data))
	// consume '['
	if _, err := dec.Token(); err != nil {
		return mapKeysFallback(arr)
	}
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return mapKeysFallback(arr)
		}
		for _, k := range rawObjectKeys(raw) {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	return columns
}

// rawObjectKeys returns an object's keys in document order.
func rawObjectKeys(raw []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	t, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := t.(json.Delim); !ok || d != '{' {
		return nil
	}
	var keys []string
	depth := 0
	for {
		t, err := dec.Token()
		if err != nil {
			return keys
		}
		switch v := t.(type) {
		case json.Delim:
			switch v {
			case '{', '[':
				depth++
			case '}', ']':
				if v == '}' && depth == 0 {
					return keys
				}
				depth--
			}
		case string:
			if depth == 0 {
				keys = append(keys, v)
				// skip the value
				var skip json.RawMessage
				if err := dec.Decode(&skip); err != nil {
					return keys
				}
			}
		}
	}
}

func mapKeysFallback(arr []map[string]any) []string {
	var columns []string
	seen := map[string]bool{}
	for _, obj := range arr {
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	return columns
}

func frameFromObjects(columns []string, objs []map[string]any, headRows int) *Frame {
	n := len(objs)
	if headRows >= 0 && headRows < n {
		n = headRows
	}
	rows := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(columns))
		for j, c := range columns {
			v, ok := objs[i][c]
			if !ok {
				row[j] = Missing
				continue
			}
			row[j] = stringifyJSONValue(v)
		}
		rows = append(rows, row)
	}
	return normalize(columns, rows)
}

func stringifyJSONValue(v any) string {
	switch t := v.(type) {
	case nil:
		return Missing
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return Missing
		}
		return string(b)
	}
}
