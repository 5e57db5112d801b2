// Package orchestrator drives a single reserved job to its terminal outcome:
// assemble the analysis context, loop the model through generate/execute
// rounds with execution results fed back as observations, and capture the
// final textual answer. All resource bounds of a job are enforced here.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/observability"
	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
	"github.com/fairyhunter13/ai-data-analyst/internal/inflation"
	"github.com/fairyhunter13/ai-data-analyst/internal/schema"
	"github.com/fairyhunter13/ai-data-analyst/pkg/textx"
)

// outputTailRunes is how much captured output rides along in progress events.
const outputTailRunes = 240

var tracer = otel.Tracer("orchestrator")

// Bounds are the per-job resource ceilings.
type Bounds struct {
	MaxRounds      int
	PerExecTimeout time.Duration
	ExecBudget     time.Duration
	WallTimeout    time.Duration
	ContextTokens  int
}

// Orchestrator coordinates one job at a time; it holds no per-job state
// between invocations, the broker is the source of truth.
type Orchestrator struct {
	broker    domain.Broker
	model     domain.ModelClient
	runner    domain.CodeRunner
	inspector *schema.Inspector
	inflation *inflation.Cache
	bounds    Bounds
}

// New wires an Orchestrator. inflationCache may be nil when the deployment
// carries no reference table.
func New(broker domain.Broker, model domain.ModelClient, runner domain.CodeRunner,
	inspector *schema.Inspector, inflationCache *inflation.Cache, bounds Bounds) *Orchestrator {
	if bounds.MaxRounds <= 0 {
		bounds.MaxRounds = 10
	}
	if bounds.PerExecTimeout <= 0 {
		bounds.PerExecTimeout = 120 * time.Second
	}
	if bounds.ExecBudget <= 0 {
		bounds.ExecBudget = 600 * time.Second
	}
	if bounds.WallTimeout <= 0 {
		bounds.WallTimeout = 1800 * time.Second
	}
	return &Orchestrator{
		broker:    broker,
		model:     model,
		runner:    runner,
		inspector: inspector,
		inflation: inflationCache,
		bounds:    bounds,
	}
}

// Run drives job to a terminal Outcome. A non-nil error means a transport
// fault the caller should answer with fail_and_requeue; every in-job fault
// (bad input, model protocol, resource breach, cancellation) comes back as a
// terminal Outcome instead.
func (o *Orchestrator) Run(ctx context.Context, job domain.Job) (domain.Outcome, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", job.ID))

	wallCtx, cancel := context.WithTimeout(ctx, o.bounds.WallTimeout)
	defer cancel()

	out, rounds, err := o.drive(wallCtx, job)
	span.SetAttributes(attribute.Int("job.rounds", rounds))
	if err != nil {
		if errors.Is(wallCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			observability.ObserveRounds(rounds)
			out = failure(domain.ErrWallTimeout,
				fmt.Sprintf("job exceeded wall clock of %s", o.bounds.WallTimeout))
			span.SetAttributes(attribute.String("job.state", string(out.State)))
			return out, nil
		}
		span.RecordError(err)
		return domain.Outcome{}, err
	}
	observability.ObserveRounds(rounds)
	span.SetAttributes(attribute.String("job.state", string(out.State)))
	return out, nil
}

func (o *Orchestrator) drive(ctx context.Context, job domain.Job) (domain.Outcome, int, error) {
	log := slog.With(slog.String("job_id", job.ID))

	if out, stop, err := o.checkCancel(ctx, job.ID); stop || err != nil {
		return out, 0, err
	}

	// context: enumerate files, derive schemas, assemble the briefing.
	if err := o.publish(ctx, job.ID, domain.PhaseLoadingContext, "inspecting data files", ""); err != nil {
		return domain.Outcome{}, 0, err
	}
	files, err := o.inspector.ListFiles()
	if err != nil {
		return failure(err, "data directory unavailable"), 0, nil
	}
	if len(files) == 0 {
		return failure(domain.ErrInputRejected, "no data files available"), 0, nil
	}
	if job.PrimaryFile != "" && !containsFile(files, job.PrimaryFile) {
		return failure(domain.ErrInputRejected,
			fmt.Sprintf("primary file %q not found", job.PrimaryFile)), 0, nil
	}
	schemas, err := o.inspector.InspectAll()
	if err != nil {
		return failure(err, "schema inspection failed"), 0, nil
	}

	inflationSummary := ""
	if o.inflation != nil && needsInflation(job.Question) {
		table, err := o.inflation.Refresh(ctx, false)
		if err != nil {
			// Stale data is served; refresh failures are never terminal.
			log.Warn("inflation refresh failed, using cached table", slog.Any("error", err))
		}
		if years := table.Years(); len(years) > 0 {
			inflationSummary = table.Summary(years[0], years[len(years)-1]+1)
		}
	}

	system := buildSystemPrompt(promptInput{
		Question:         job.Question,
		PrimaryFile:      job.PrimaryFile,
		Files:            files,
		Schemas:          schemas,
		InflationSummary: inflationSummary,
		ContextTokens:    o.bounds.ContextTokens,
	})
	msgs := []domain.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: job.Question},
	}
	if err := o.publish(ctx, job.ID, domain.PhasePrompting, "analysis prompt assembled", ""); err != nil {
		return domain.Outcome{}, 0, err
	}

	var execUsed time.Duration
	for round := 1; round <= o.bounds.MaxRounds; round++ {
		if out, stop, err := o.checkCancel(ctx, job.ID); stop || err != nil {
			return out, round, err
		}
		if err := o.publish(ctx, job.ID, domain.PhaseGeneratingCode,
			fmt.Sprintf("requesting model (round %d/%d)", round, o.bounds.MaxRounds), ""); err != nil {
			return domain.Outcome{}, round, err
		}

		reply, err := o.model.Chat(ctx, msgs)
		if err != nil {
			if errors.Is(err, domain.ErrModelProtocol) {
				return failure(err, textx.FirstLine(err.Error())), round, nil
			}
			// ModelUnavailable and context faults: requeue-worthy.
			return domain.Outcome{}, round, err
		}

		// A cancel issued while the request was in flight discards the reply.
		if out, stop, err := o.checkCancel(ctx, job.ID); stop || err != nil {
			return out, round, err
		}

		code, hasCode := extractCode(reply)
		if !hasCode {
			if err := o.publish(ctx, job.ID, domain.PhaseSummarizing, "composing final answer", ""); err != nil {
				return domain.Outcome{}, round, err
			}
			return domain.Outcome{State: domain.JobSucceeded, Result: textualAnswer(reply)}, round, nil
		}
		msgs = append(msgs, domain.ChatMessage{Role: "assistant", Content: reply})

		remaining := o.bounds.ExecBudget - execUsed
		if remaining <= 0 {
			return failure(domain.ErrExecBudgetExhausted,
				fmt.Sprintf("cumulative execution time exceeded %s", o.bounds.ExecBudget)), round, nil
		}
		timeout := o.bounds.PerExecTimeout
		capped := remaining < timeout
		if capped {
			timeout = remaining
		}

		started := time.Now()
		res, err := o.runner.Run(ctx, preamble+code, timeout)
		execUsed += time.Since(started)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrExecutionTimeout) && capped:
				return failure(domain.ErrExecBudgetExhausted,
					fmt.Sprintf("cumulative execution time exceeded %s", o.bounds.ExecBudget)), round, nil
			case errors.Is(err, domain.ErrExecutionTimeout):
				return failure(err, fmt.Sprintf("code execution exceeded %s", o.bounds.PerExecTimeout)), round, nil
			case ctx.Err() != nil:
				return domain.Outcome{}, round, ctx.Err()
			default:
				return failure(err, "code execution tool failed"), round, nil
			}
		}

		tail := textx.Tail(res.Stdout, outputTailRunes)
		if res.ExitStatus != 0 {
			tail = textx.Tail(res.Stderr, outputTailRunes)
		}
		if err := o.publish(ctx, job.ID, domain.PhaseExecutingCode,
			fmt.Sprintf("execution finished (round %d, exit %d)", round, res.ExitStatus), tail); err != nil {
			return domain.Outcome{}, round, err
		}
		// Guest failures are observations, never job failures.
		msgs = append(msgs, domain.ChatMessage{Role: "user", Content: observation(round, res)})
	}

	return failure(errors.New("round limit"),
		fmt.Sprintf("no final answer after %d rounds", o.bounds.MaxRounds)), o.bounds.MaxRounds, nil
}

// checkCancel consults the advisory flag at a state boundary.
func (o *Orchestrator) checkCancel(ctx context.Context, jobID string) (domain.Outcome, bool, error) {
	requested, err := o.broker.CancelRequested(ctx, jobID)
	if err != nil {
		return domain.Outcome{}, false, err
	}
	if !requested {
		return domain.Outcome{}, false, nil
	}
	return domain.Outcome{
		State:     domain.JobCanceled,
		ErrorKind: "Canceled",
		ErrorMsg:  "canceled by client request",
	}, true, nil
}

func (o *Orchestrator) publish(ctx context.Context, jobID, phase, detail, partial string) error {
	_, err := o.broker.PublishProgress(ctx, jobID, domain.ProgressEvent{
		Phase:         phase,
		Detail:        detail,
		PartialOutput: partial,
	})
	return err
}

func failure(err error, msg string) domain.Outcome {
	return domain.Outcome{
		State:     domain.JobFailed,
		ErrorKind: domain.ErrorKind(err),
		ErrorMsg:  msg,
	}
}

func containsFile(files []domain.DataFile, name string) bool {
	for _, f := range files {
		if f.Name == name {
			return true
		}
	}
	return false
}
