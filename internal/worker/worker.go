// Package worker runs the reserve/orchestrate/complete loop. One Worker
// processes one job at a time; scale-out is more worker processes coordinated
// only through the broker.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/observability"
	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
	"github.com/fairyhunter13/ai-data-analyst/pkg/textx"
)

// JobRunner drives one reserved job to its terminal outcome.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) (domain.Outcome, error)
}

// maxExtendFailures is how many consecutive lease-extension failures the
// worker tolerates before abandoning the job to reclamation.
const maxExtendFailures = 3

// Options tune the worker loop.
type Options struct {
	LeaseDuration  time.Duration
	ExtendEvery    time.Duration
	ReserveTimeout time.Duration
	// DrainTimeout bounds the in-flight job after a shutdown signal.
	DrainTimeout time.Duration
}

// Worker is one single-concurrency job processor.
type Worker struct {
	broker domain.Broker
	runner JobRunner
	opts   Options
}

// New constructs a Worker.
func New(broker domain.Broker, runner JobRunner, opts Options) *Worker {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 10 * time.Minute
	}
	if opts.ExtendEvery <= 0 {
		opts.ExtendEvery = opts.LeaseDuration / 2
	}
	if opts.ReserveTimeout <= 0 {
		opts.ReserveTimeout = 5 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 2 * time.Minute
	}
	return &Worker{broker: broker, runner: runner, opts: opts}
}

// Run loops until ctx is done: reserve, process, repeat. A shutdown signal
// stops new reservations; the job in flight finishes under DrainTimeout.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker started",
		slog.Duration("lease", w.opts.LeaseDuration),
		slog.Duration("extend_every", w.opts.ExtendEvery))
	for {
		if ctx.Err() != nil {
			slog.Info("worker stopped")
			return
		}
		job, lease, err := w.broker.Reserve(ctx, w.opts.ReserveTimeout)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || ctx.Err() != nil {
				continue
			}
			slog.Error("reserve failed", slog.Any("error", err))
			continue
		}
		w.process(ctx, job, lease)
	}
}

// process runs one job under its lease. The job context is detached from the
// loop context so a shutdown lets the job drain instead of aborting it.
func (w *Worker) process(ctx context.Context, job domain.Job, lease domain.Lease) {
	log := slog.With(slog.String("job_id", job.ID), slog.Int("attempt", job.Attempts))
	log.Info("job reserved", slog.String("question", textx.FirstLine(job.Question)))
	observability.StartProcessingJob()

	jobCtx, cancelJob := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJob()
	go func() {
		select {
		case <-ctx.Done():
			t := time.NewTimer(w.opts.DrainTimeout)
			defer t.Stop()
			select {
			case <-t.C:
				log.Warn("drain timeout hit, aborting in-flight job")
				cancelJob()
			case <-jobCtx.Done():
			}
		case <-jobCtx.Done():
		}
	}()

	var abandoned atomic.Bool
	stopExtend := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.opts.ExtendEvery)
		defer ticker.Stop()
		failures := 0
		cur := lease
		for {
			select {
			case <-stopExtend:
				return
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				next, err := w.broker.Extend(jobCtx, cur, w.opts.LeaseDuration)
				if err == nil {
					cur = next
					failures = 0
					continue
				}
				failures++
				log.Warn("lease extension failed",
					slog.Int("consecutive", failures), slog.Any("error", err))
				if errors.Is(err, domain.ErrLeaseLost) || failures >= maxExtendFailures {
					// The broker will reclaim the job; stop working on it.
					abandoned.Store(true)
					cancelJob()
					return
				}
			}
		}
	}()

	outcome, err := w.runner.Run(jobCtx, job)
	close(stopExtend)

	// Terminal writes use a fresh deadline so shutdown cannot strand them.
	finCtx, cancelFin := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancelFin()

	switch {
	case abandoned.Load():
		log.Warn("job abandoned after lease loss; leaving it to reclamation")
		observability.FinishJob("abandoned")
	case err != nil:
		reason := textx.FirstLine(err.Error())
		log.Error("job escalated for requeue", slog.Any("error", err))
		if rqErr := w.broker.FailAndRequeue(finCtx, lease, reason); rqErr != nil {
			log.Error("requeue failed", slog.Any("error", rqErr))
		}
		observability.FinishJob("requeued")
	default:
		if cErr := w.broker.Complete(finCtx, lease, outcome); cErr != nil {
			// A lost lease here means another attempt owns the job now.
			log.Error("terminal write failed", slog.Any("error", cErr))
			observability.FinishJob("lease_lost")
			return
		}
		log.Info("job finished", slog.String("state", string(outcome.State)))
		observability.FinishJob(string(outcome.State))
	}
}
