package subprocess

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
}

func TestRunCapturesStdoutAndFinalValue(t *testing.T) {
	t.Parallel()
	requirePython(t)
	r := New("python3", t.TempDir())

	res, err := r.Run(context.Background(), "print('hello')\n1 + 2\n", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "3", res.FinalValue)
	assert.Zero(t, res.ExitStatus)
}

func TestRunReportsGuestErrorsWithoutFailing(t *testing.T) {
	t.Parallel()
	requirePython(t)
	r := New("python3", t.TempDir())

	res, err := r.Run(context.Background(), "x = 1 / 0\n", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitStatus)
	assert.Contains(t, res.Stderr, "ZeroDivisionError")
}

func TestRunKillsOnTimeout(t *testing.T) {
	t.Parallel()
	requirePython(t)
	r := New("python3", t.TempDir())

	_, err := r.Run(context.Background(), "import time\ntime.sleep(60)\n", 300*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrExecutionTimeout)
}

func TestRunTrailingAssignmentHasNoFinalValue(t *testing.T) {
	t.Parallel()
	requirePython(t)
	r := New("python3", t.TempDir())

	res, err := r.Run(context.Background(), "total = 40 + 2\n", 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, res.FinalValue)
	assert.Zero(t, res.ExitStatus)
}

func TestRunMissingInterpreterIsHarnessError(t *testing.T) {
	t.Parallel()
	r := New("definitely-not-an-interpreter", t.TempDir())

	_, err := r.Run(context.Background(), "print(1)\n", 5*time.Second)
	assert.Error(t, err)
}
