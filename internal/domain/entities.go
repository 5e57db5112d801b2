// Package domain holds the core entities and ports of the analysis service.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	// ErrInputRejected marks malformed submissions: empty question, unknown
	// primary file, or a data directory with no files at all.
	ErrInputRejected = errors.New("input rejected")
	// ErrNotFound marks a missing file or an unknown job id.
	ErrNotFound = errors.New("not found")

	// Loader-origin faults.
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrMalformedCSV      = errors.New("malformed csv")
	ErrMalformedJSON     = errors.New("malformed json")
	ErrMalformedExcel    = errors.New("malformed excel")
	ErrFileTooLarge      = errors.New("file too large")

	// ErrModelUnavailable is a transport-level failure contacting the model
	// server; eligible for requeue.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrModelProtocol means the model returned a response the orchestrator
	// cannot interpret even after parse recovery; terminal.
	ErrModelProtocol = errors.New("model protocol error")

	// Bounded-resource violations; terminal.
	ErrExecutionTimeout    = errors.New("execution timeout")
	ErrExecBudgetExhausted = errors.New("execution budget exhausted")
	ErrWallTimeout         = errors.New("wall clock timeout")

	// ErrCanceled marks a client-requested stop.
	ErrCanceled = errors.New("canceled")
	// ErrBrokerUnavailable marks a state-store connectivity fault; transient.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrLeaseLost means the worker's lease expired or was reclaimed.
	ErrLeaseLost = errors.New("lease lost")
	// ErrInflationRefresh marks a failed reference-source refresh; never terminal.
	ErrInflationRefresh = errors.New("inflation refresh failed")
)

// ErrorKind returns the short wire name for a terminal error, suitable for the
// detail of a failed progress event and the status read.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInputRejected):
		return "InputRejected"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, ErrMalformedCSV):
		return "MalformedCsv"
	case errors.Is(err, ErrMalformedJSON):
		return "MalformedJson"
	case errors.Is(err, ErrMalformedExcel):
		return "MalformedExcel"
	case errors.Is(err, ErrFileTooLarge):
		return "FileTooLarge"
	case errors.Is(err, ErrModelUnavailable):
		return "ModelUnavailable"
	case errors.Is(err, ErrModelProtocol):
		return "ModelProtocolError"
	case errors.Is(err, ErrExecutionTimeout):
		return "ExecutionTimeout"
	case errors.Is(err, ErrExecBudgetExhausted):
		return "ExecBudgetExhausted"
	case errors.Is(err, ErrWallTimeout):
		return "WallTimeout"
	case errors.Is(err, ErrCanceled):
		return "Canceled"
	case errors.Is(err, ErrBrokerUnavailable):
		return "BrokerError"
	case errors.Is(err, ErrInflationRefresh):
		return "InflationRefreshFailed"
	default:
		return "Internal"
	}
}

// JobState enumerates the job state machine. Terminal states are absorbing.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobReserved  JobState = "RESERVED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
	JobCanceled  JobState = "CANCELED"
)

// Terminal reports whether a state is absorbing.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

// Job is one submitted analysis request.
// Invariants: terminal states are absorbing; Attempts <= max attempts;
// exactly one terminal write per job.
type Job struct {
	ID          string
	Question    string
	PrimaryFile string
	SubmittedAt time.Time
	State       JobState
	Attempts    int
	Result      string
	ErrorKind   string
	ErrorMsg    string
}

// Progress phases, in the order a healthy job moves through them.
const (
	PhaseQueued         = "queued"
	PhaseLoadingContext = "loading-context"
	PhasePrompting      = "prompting"
	PhaseGeneratingCode = "generating-code"
	PhaseExecutingCode  = "executing-code"
	PhaseSummarizing    = "summarizing"
	PhaseCompleted      = "completed"
	PhaseFailed         = "failed"
)

// ProgressEvent is a single ordered entry in a job's progress stream.
// Seq is assigned broker-side and strictly increases from 1; the last event of
// a stream carries phase "completed" or "failed".
type ProgressEvent struct {
	Seq           int64     `json:"seq"`
	At            time.Time `json:"at"`
	Phase         string    `json:"phase"`
	Detail        string    `json:"detail"`
	PartialOutput string    `json:"partial_output,omitempty"`
}

// TerminalEvent reports whether the event closes its stream.
func (e ProgressEvent) TerminalEvent() bool {
	return e.Phase == PhaseCompleted || e.Phase == PhaseFailed
}

// DataFile describes an uploaded tabular artifact. Bytes are opaque to the
// core; only the Loader interprets them.
type DataFile struct {
	Name   string
	Size   int64
	MTime  time.Time
	Format string // csv, tsv, json, xlsx, xls, txt
}

// Outcome is the terminal result handed to Broker.Complete.
type Outcome struct {
	State     JobState // JobSucceeded, JobFailed or JobCanceled
	Result    string
	ErrorKind string
	ErrorMsg  string
}

// Lease is a worker's time-bounded exclusive hold on a reserved job.
type Lease struct {
	JobID   string
	Token   string
	Expires time.Time
}

// Broker abstracts the durable queue and result store (port).
type Broker interface {
	// Submit atomically persists the job with state PENDING and enqueues it.
	// Idempotent when the caller supplies its own id.
	Submit(ctx context.Context, j Job) (string, error)
	// Reserve blocks up to timeout for an eligible job. Exactly one reserver
	// succeeds per enqueue. Returns ErrNotFound when the wait times out empty.
	Reserve(ctx context.Context, timeout time.Duration) (Job, Lease, error)
	// Extend pushes the lease expiry forward; fails with ErrLeaseLost if the
	// lease already expired and was reclaimed.
	Extend(ctx context.Context, lease Lease, d time.Duration) (Lease, error)
	// PublishProgress appends an event; Seq is assigned by monotone increment.
	PublishProgress(ctx context.Context, jobID string, ev ProgressEvent) (int64, error)
	// SubscribeProgress yields events with seq >= fromSeq in order until a
	// terminal event is observed or ctx ends.
	SubscribeProgress(ctx context.Context, jobID string, fromSeq int64) (<-chan ProgressEvent, error)
	// Complete atomically sets the terminal state and publishes the final
	// progress event. Idempotent by lease token.
	Complete(ctx context.Context, lease Lease, out Outcome) error
	// FailAndRequeue nacks: back to PENDING with attempts++ while attempts <
	// max, else FAILED.
	FailAndRequeue(ctx context.Context, lease Lease, reason string) error
	// RequestCancel sets the advisory cancellation flag.
	RequestCancel(ctx context.Context, jobID string) error
	// CancelRequested reports the flag; checked at orchestrator boundaries.
	CancelRequested(ctx context.Context, jobID string) (bool, error)
	// Get is the single-shot status read.
	Get(ctx context.Context, jobID string) (Job, error)
}

// ChatMessage is one turn in the model conversation.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ModelClient is the synchronous "complete chat" capability (port).
type ModelClient interface {
	Chat(ctx context.Context, msgs []ChatMessage) (string, error)
}

// ExecResult is the code-execution tool's response. The runner is an RPC: the
// request is a code string, the response captures everything the orchestrator
// feeds back to the model.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
	FinalValue string
}

// CodeRunner executes one generated code block in a sandboxed subprocess (port).
type CodeRunner interface {
	Run(ctx context.Context, code string, timeout time.Duration) (ExecResult, error)
}

// Context is an alias so adapters and usecases pass context.Context through
// without the domain importing adapter packages.
type Context = context.Context
