package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/runner/subprocess"
)

func requirePandas(t *testing.T, r *subprocess.Runner) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	res, err := r.Run(context.Background(), "import pandas\n", 30*time.Second)
	if err != nil || res.ExitStatus != 0 {
		t.Skip("pandas not installed")
	}
}

// load_file must accept every JSON shape the service itself profiles,
// including newline-delimited objects in a .json file.
func TestPreambleLoadFileJSONShapes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := subprocess.New("python3", dir)
	requirePandas(t, r)

	docs := map[string]string{
		"array.json":   `[{"event":"Gala","revenue":500},{"event":"Fair","revenue":1500}]`,
		"wrapped.json": `{"generated":"2026-01-01","records":[{"event":"Gala","revenue":500},{"event":"Fair","revenue":1500}]}`,
		"ndjson.json":  "{\"event\":\"Gala\",\"revenue\":500}\n{\"event\":\"Fair\",\"revenue\":1500}\n",
	}
	for name, body := range docs {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
			code := preamble + `
df = load_file("` + name + `")
print(len(df.index), int(df["revenue"].sum()))
`
			res, err := r.Run(context.Background(), code, 60*time.Second)
			require.NoError(t, err)
			assert.Equal(t, 0, res.ExitStatus, res.Stderr)
			assert.Contains(t, res.Stdout, "2 2000")
		})
	}
}

func TestPreambleLoadFileCSV(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := subprocess.New("python3", dir)
	requirePandas(t, r)

	body := "Event,Ticket_Price\nGala,110.92\nFair,127.24\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.csv"), []byte(body), 0o644))

	code := preamble + `
df = load_file("events.csv")
print(round(df["Ticket_Price"].mean(), 2))
`
	res, err := r.Run(context.Background(), code, 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitStatus, res.Stderr)
	assert.Contains(t, res.Stdout, "119.08")
}
