// Package redisbroker implements the durable job queue and progress store on
// Redis. Jobs live in hashes, the pending queue is a list consumed with BLMOVE,
// leases sit in a sorted set scored by expiry, and each job's progress stream
// is an append-only list whose indices define the event sequence.
package redisbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

var tracer = otel.Tracer("redisbroker")

const (
	pendingKey = "q:pending"
	workingKey = "q:working"
	leasesKey  = "q:leases"

	// subscribePoll is how often SubscribeProgress checks for new events.
	subscribePoll = 200 * time.Millisecond
)

func jobKey(id string) string      { return "job:" + id }
func progressKey(id string) string { return "progress:" + id }

// Options tune queue behavior; zero values fall back to safe defaults.
type Options struct {
	LeaseDuration time.Duration
	MaxAttempts   int
	Retention     time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffElapsed time.Duration
}

// Broker is the Redis-backed implementation of domain.Broker.
type Broker struct {
	rdb  redis.UniversalClient
	opts Options
	now  func() time.Time
}

// New constructs a Broker over an existing Redis client.
func New(rdb redis.UniversalClient, opts Options) *Broker {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 100 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 5 * time.Second
	}
	if opts.BackoffElapsed <= 0 {
		opts.BackoffElapsed = 30 * time.Second
	}
	return &Broker{rdb: rdb, opts: opts, now: time.Now}
}

// retry runs op under exponential backoff, translating exhaustion into
// ErrBrokerUnavailable so callers see one transient-fault sentinel.
func (b *Broker) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.opts.BackoffInitial
	bo.MaxInterval = b.opts.BackoffMax
	bo.MaxElapsedTime = b.opts.BackoffElapsed
	err := backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, redis.Nil) {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, domain.ErrBrokerUnavailable)
	}
	return err
}

// Submit persists the job as PENDING, enqueues it, and seeds the progress
// stream with the seq-1 "queued" event, all in one script. An empty ID gets a
// fresh UUID; resubmitting an existing ID is a no-op returning the same ID.
func (b *Broker) Submit(ctx context.Context, j domain.Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = b.now().UTC()
	}
	ctx, span := tracer.Start(ctx, "broker.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", j.ID))

	queued, err := json.Marshal(domain.ProgressEvent{
		At:     j.SubmittedAt,
		Phase:  domain.PhaseQueued,
		Detail: "job accepted",
	})
	if err != nil {
		return "", fmt.Errorf("op=broker.submit: %w", err)
	}
	err = b.retry(ctx, func() error {
		return submitScript.Run(ctx, b.rdb,
			[]string{jobKey(j.ID), pendingKey, progressKey(j.ID)},
			j.ID, j.Question, j.PrimaryFile, j.SubmittedAt.Format(time.RFC3339Nano), string(queued),
		).Err()
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("op=broker.submit id=%s: %w", j.ID, err)
	}
	return j.ID, nil
}

// Reserve blocks up to timeout for a pending job and claims it under a fresh
// lease. Returns ErrNotFound when the wait elapses with nothing claimable.
func (b *Broker) Reserve(ctx context.Context, timeout time.Duration) (domain.Job, domain.Lease, error) {
	ctx, span := tracer.Start(ctx, "broker.Reserve")
	defer span.End()

	deadline := b.now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.Job{}, domain.Lease{}, fmt.Errorf("op=broker.reserve: queue empty: %w", domain.ErrNotFound)
		}
		id, err := b.rdb.BLMove(ctx, pendingKey, workingKey, "RIGHT", "LEFT", remaining).Result()
		if errors.Is(err, redis.Nil) {
			return domain.Job{}, domain.Lease{}, fmt.Errorf("op=broker.reserve: queue empty: %w", domain.ErrNotFound)
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.Job{}, domain.Lease{}, ctx.Err()
			}
			return domain.Job{}, domain.Lease{}, fmt.Errorf("op=broker.reserve: %v: %w", err, domain.ErrBrokerUnavailable)
		}

		lease := domain.Lease{
			JobID:   id,
			Token:   uuid.NewString(),
			Expires: b.now().Add(b.opts.LeaseDuration),
		}
		claimed, err := claimScript.Run(ctx, b.rdb,
			[]string{jobKey(id), leasesKey, workingKey},
			id, lease.Token, lease.Expires.Unix(),
		).Int()
		if err != nil {
			return domain.Job{}, domain.Lease{}, fmt.Errorf("op=broker.reserve id=%s: %v: %w", id, err, domain.ErrBrokerUnavailable)
		}
		if claimed == 0 {
			// Stale queue entry (job expired or already terminal); keep waiting.
			continue
		}
		job, err := b.Get(ctx, id)
		if err != nil {
			return domain.Job{}, domain.Lease{}, err
		}
		span.SetAttributes(attribute.String("job.id", id))
		return job, lease, nil
	}
}

// Extend pushes the lease forward by d from now.
func (b *Broker) Extend(ctx context.Context, lease domain.Lease, d time.Duration) (domain.Lease, error) {
	if d <= 0 {
		d = b.opts.LeaseDuration
	}
	next := b.now().Add(d)
	var ok int
	err := b.retry(ctx, func() error {
		var err error
		ok, err = extendScript.Run(ctx, b.rdb,
			[]string{jobKey(lease.JobID), leasesKey},
			lease.JobID, lease.Token, next.Unix(),
		).Int()
		return err
	})
	if err != nil {
		return lease, fmt.Errorf("op=broker.extend id=%s: %w", lease.JobID, err)
	}
	if ok == 0 {
		return lease, fmt.Errorf("op=broker.extend id=%s: %w", lease.JobID, domain.ErrLeaseLost)
	}
	lease.Expires = next
	return lease, nil
}

// PublishProgress appends one event to the job's stream and returns its seq.
// The broker assigns seq; any value in ev.Seq is ignored. Publishing to an
// already-terminal job is a silent no-op (seq 0) so racing workers cannot
// extend a closed stream.
func (b *Broker) PublishProgress(ctx context.Context, jobID string, ev domain.ProgressEvent) (int64, error) {
	if ev.At.IsZero() {
		ev.At = b.now().UTC()
	}
	ev.Seq = 0
	raw, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("op=broker.publish: %w", err)
	}
	var seq int64
	err = b.retry(ctx, func() error {
		var err error
		seq, err = publishScript.Run(ctx, b.rdb,
			[]string{jobKey(jobID), progressKey(jobID)},
			string(raw),
		).Int64()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("op=broker.publish id=%s: %w", jobID, err)
	}
	if seq < 0 {
		return 0, fmt.Errorf("op=broker.publish id=%s: %w", jobID, domain.ErrNotFound)
	}
	return seq, nil
}

// SubscribeProgress streams events with seq >= fromSeq in order. The channel
// closes after the terminal event is delivered or ctx ends. fromSeq <= 0 means
// from the beginning.
func (b *Broker) SubscribeProgress(ctx context.Context, jobID string, fromSeq int64) (<-chan domain.ProgressEvent, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	if _, err := b.Get(ctx, jobID); err != nil {
		return nil, err
	}
	out := make(chan domain.ProgressEvent, 16)
	go func() {
		defer close(out)
		next := fromSeq
		ticker := time.NewTicker(subscribePoll)
		defer ticker.Stop()
		for {
			items, err := b.rdb.LRange(ctx, progressKey(jobID), next-1, -1).Result()
			if err != nil && ctx.Err() != nil {
				return
			}
			for _, item := range items {
				var ev domain.ProgressEvent
				if err := json.Unmarshal([]byte(item), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				next = ev.Seq + 1
				if ev.TerminalEvent() {
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Complete performs the job's single terminal write and publishes the closing
// progress event atomically. Idempotent by lease token; a worker whose lease
// was reclaimed gets ErrLeaseLost and must not retry.
func (b *Broker) Complete(ctx context.Context, lease domain.Lease, out domain.Outcome) error {
	ctx, span := tracer.Start(ctx, "broker.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", lease.JobID),
		attribute.String("job.state", string(out.State)),
	)

	phase := domain.PhaseCompleted
	detail := "analysis complete"
	if out.State != domain.JobSucceeded {
		phase = domain.PhaseFailed
		detail = out.ErrorKind
		if out.ErrorMsg != "" {
			detail = out.ErrorKind + ": " + out.ErrorMsg
		}
	}
	final, err := json.Marshal(domain.ProgressEvent{
		At:     b.now().UTC(),
		Phase:  phase,
		Detail: detail,
	})
	if err != nil {
		return fmt.Errorf("op=broker.complete: %w", err)
	}
	var ok int
	err = b.retry(ctx, func() error {
		var err error
		ok, err = completeScript.Run(ctx, b.rdb,
			[]string{jobKey(lease.JobID), leasesKey, workingKey, progressKey(lease.JobID)},
			lease.JobID, lease.Token, string(out.State), out.Result, out.ErrorKind, out.ErrorMsg,
			string(final), int64(b.opts.Retention.Seconds()),
		).Int()
		return err
	})
	if err != nil {
		return fmt.Errorf("op=broker.complete id=%s: %w", lease.JobID, err)
	}
	if ok == 0 {
		return fmt.Errorf("op=broker.complete id=%s: %w", lease.JobID, domain.ErrLeaseLost)
	}
	return nil
}

// FailAndRequeue returns a reserved job to PENDING with attempts incremented,
// or writes terminal FAILED once attempts reach the maximum.
func (b *Broker) FailAndRequeue(ctx context.Context, lease domain.Lease, reason string) error {
	ctx, span := tracer.Start(ctx, "broker.FailAndRequeue")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", lease.JobID))
	return b.requeue(ctx, lease.JobID, lease.Token, reason)
}

func (b *Broker) requeue(ctx context.Context, jobID, token, reason string) error {
	failEv, err := json.Marshal(domain.ProgressEvent{
		At:     b.now().UTC(),
		Phase:  domain.PhaseFailed,
		Detail: "Internal: " + reason,
	})
	if err != nil {
		return fmt.Errorf("op=broker.requeue: %w", err)
	}
	err = b.retry(ctx, func() error {
		return requeueScript.Run(ctx, b.rdb,
			[]string{jobKey(jobID), leasesKey, workingKey, pendingKey, progressKey(jobID)},
			jobID, token, b.opts.MaxAttempts, reason, string(failEv), int64(b.opts.Retention.Seconds()),
		).Err()
	})
	if err != nil {
		return fmt.Errorf("op=broker.requeue id=%s: %w", jobID, err)
	}
	return nil
}

// RequestCancel sets the advisory cancellation flag. Cancelling an unknown job
// is ErrNotFound; cancelling a finished one is a harmless no-op.
func (b *Broker) RequestCancel(ctx context.Context, jobID string) error {
	var exists bool
	err := b.retry(ctx, func() error {
		n, err := b.rdb.Exists(ctx, jobKey(jobID)).Result()
		exists = n == 1
		return err
	})
	if err != nil {
		return fmt.Errorf("op=broker.cancel id=%s: %w", jobID, err)
	}
	if !exists {
		return fmt.Errorf("op=broker.cancel id=%s: %w", jobID, domain.ErrNotFound)
	}
	err = b.retry(ctx, func() error {
		return b.rdb.HSet(ctx, jobKey(jobID), "cancel", 1).Err()
	})
	if err != nil {
		return fmt.Errorf("op=broker.cancel id=%s: %w", jobID, err)
	}
	return nil
}

// CancelRequested reports the advisory flag.
func (b *Broker) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var v string
	err := b.retry(ctx, func() error {
		var err error
		v, err = b.rdb.HGet(ctx, jobKey(jobID), "cancel").Result()
		if errors.Is(err, redis.Nil) {
			v = "0"
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("op=broker.cancelRequested id=%s: %w", jobID, err)
	}
	return v == "1", nil
}

// Get reads the job record. Unknown or expired ids return ErrNotFound.
func (b *Broker) Get(ctx context.Context, jobID string) (domain.Job, error) {
	var fields map[string]string
	err := b.retry(ctx, func() error {
		var err error
		fields, err = b.rdb.HGetAll(ctx, jobKey(jobID)).Result()
		return err
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=broker.get id=%s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return domain.Job{}, fmt.Errorf("op=broker.get id=%s: %w", jobID, domain.ErrNotFound)
	}
	return jobFromFields(fields), nil
}

func jobFromFields(fields map[string]string) domain.Job {
	attempts, _ := strconv.Atoi(fields["attempts"])
	submitted, _ := time.Parse(time.RFC3339Nano, fields["submitted_at"])
	return domain.Job{
		ID:          fields["id"],
		Question:    fields["question"],
		PrimaryFile: fields["primary_file"],
		SubmittedAt: submitted,
		State:       domain.JobState(fields["state"]),
		Attempts:    attempts,
		Result:      fields["result"],
		ErrorKind:   fields["error_kind"],
		ErrorMsg:    fields["error_msg"],
	}
}

// ReclaimExpired sweeps leases whose expiry passed, requeueing or failing
// each per the attempts budget, then returns stranded working entries to the
// pending queue. Returns how many jobs were recovered in total.
func (b *Broker) ReclaimExpired(ctx context.Context) (int, error) {
	ids, err := b.rdb.ZRangeByScore(ctx, leasesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(b.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("op=broker.reclaim: %v: %w", err, domain.ErrBrokerUnavailable)
	}
	reclaimed := 0
	for _, id := range ids {
		// Empty token skips the lease check: expiry itself is the authority.
		if err := b.requeue(ctx, id, "", "lease expired"); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}

	// A worker can die between the BLMOVE pop and the claim script. The id
	// then sits on the working list with state PENDING and no lease entry, so
	// the expiry sweep above never sees it.
	stranded, err := b.rdb.LRange(ctx, workingKey, 0, -1).Result()
	if err != nil {
		return reclaimed, fmt.Errorf("op=broker.reclaim: %v: %w", err, domain.ErrBrokerUnavailable)
	}
	for _, id := range stranded {
		n, err := recoverScript.Run(ctx, b.rdb,
			[]string{jobKey(id), leasesKey, workingKey, pendingKey}, id,
		).Int()
		if err != nil {
			return reclaimed, fmt.Errorf("op=broker.reclaim id=%s: %v: %w", id, err, domain.ErrBrokerUnavailable)
		}
		reclaimed += n
	}
	return reclaimed, nil
}
