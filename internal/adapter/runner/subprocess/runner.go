// Package subprocess executes generated analysis code in a short-lived
// interpreter process. The exchange is a small RPC: the code goes in on stdin,
// a JSON envelope with stdout, stderr, exit status and the final expression
// value comes back on the process's stdout.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/observability"
	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

// harness wraps the generated code: it splits off a trailing expression
// statement, execs the rest, evals the expression, and reports everything as
// one JSON object. The harness itself always exits 0; failures of the guest
// code are carried inside the envelope.
const harness = `
import ast, contextlib, io, json, sys, traceback

src = sys.stdin.read()
out, err = io.StringIO(), io.StringIO()
final, status = "", 0
try:
    tree = ast.parse(src)
    last = None
    if tree.body and isinstance(tree.body[-1], ast.Expr):
        last = ast.Expression(tree.body[-1].value)
        tree.body = tree.body[:-1]
    scope = {"__name__": "__main__"}
    with contextlib.redirect_stdout(out), contextlib.redirect_stderr(err):
        exec(compile(tree, "<analysis>", "exec"), scope)
        if last is not None:
            value = eval(compile(last, "<analysis>", "eval"), scope)
            if value is not None:
                final = repr(value)
except BaseException:
    err.write(traceback.format_exc())
    status = 1
json.dump({"stdout": out.getvalue(), "stderr": err.getvalue(),
           "exit_status": status, "final_value": final}, sys.stdout)
`

// Runner implements domain.CodeRunner over a local interpreter command.
type Runner struct {
	// Command is the interpreter binary, normally python3.
	Command string
	// Dir is the working directory of each execution; the data directory is
	// reachable from here so generated code can open files by relative path.
	Dir string
}

// New constructs a Runner.
func New(command, dir string) *Runner {
	if command == "" {
		command = "python3"
	}
	return &Runner{Command: command, Dir: dir}
}

type envelope struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitStatus int    `json:"exit_status"`
	FinalValue string `json:"final_value"`
}

// Run executes one code block and returns its captured result. Hitting the
// timeout kills the process tree and returns ErrExecutionTimeout; a non-zero
// guest exit is NOT an error here, the caller reads ExitStatus.
func (r *Runner) Run(ctx context.Context, code string, timeout time.Duration) (domain.ExecResult, error) {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Command, "-c", harness)
	cmd.Dir = r.Dir
	cmd.Stdin = strings.NewReader(code)
	cmd.Env = append(os.Environ(), "PYTHONDONTWRITEBYTECODE=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	observability.CodeExecutionDuration.Observe(time.Since(start).Seconds())

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		observability.CodeExecutionsTotal.WithLabelValues("timeout").Inc()
		return domain.ExecResult{}, fmt.Errorf("op=runner.run: killed after %s: %w", timeout, domain.ErrExecutionTimeout)
	}
	if ctx.Err() != nil {
		return domain.ExecResult{}, ctx.Err()
	}

	var env envelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		// The harness itself failed to start (interpreter missing, OOM kill).
		observability.CodeExecutionsTotal.WithLabelValues("harness_error").Inc()
		exit := -1
		if cmd.ProcessState != nil {
			exit = cmd.ProcessState.ExitCode()
		}
		if runErr == nil {
			runErr = fmt.Errorf("undecodable harness output")
		}
		return domain.ExecResult{}, fmt.Errorf("op=runner.run cmd=%s exit=%d: %v: stderr=%s",
			r.Command, exit, runErr, stderr.String())
	}
	if env.ExitStatus == 0 {
		observability.CodeExecutionsTotal.WithLabelValues("ok").Inc()
	} else {
		observability.CodeExecutionsTotal.WithLabelValues("guest_error").Inc()
	}
	return domain.ExecResult{
		Stdout:     env.Stdout,
		Stderr:     env.Stderr,
		ExitStatus: env.ExitStatus,
		FinalValue: env.FinalValue,
	}, nil
}
