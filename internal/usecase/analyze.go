// Package usecase contains the transport-agnostic application services: job
// submission and lifecycle reads on one side, data-directory reads on the
// other. Handlers call these; these call ports.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/observability"
	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
	obsctx "github.com/fairyhunter13/ai-data-analyst/internal/observability"
	"github.com/fairyhunter13/ai-data-analyst/internal/schema"
	"github.com/fairyhunter13/ai-data-analyst/pkg/textx"
)

// maxQuestionLen bounds a submitted question; anything longer is noise or abuse.
const maxQuestionLen = 4000

// AnalyzeService owns the job lifecycle exposed to transports.
type AnalyzeService struct {
	Broker    domain.Broker
	Inspector *schema.Inspector
}

// NewAnalyzeService wires the service.
func NewAnalyzeService(broker domain.Broker, inspector *schema.Inspector) AnalyzeService {
	return AnalyzeService{Broker: broker, Inspector: inspector}
}

// Submit validates the request, persists the job, and returns its id. The
// heavy work happens later in a worker; this returns as soon as the broker
// accepted the record.
func (s AnalyzeService) Submit(ctx context.Context, question, primaryFile string) (string, error) {
	question = strings.TrimSpace(textx.SanitizeText(question))
	if question == "" {
		return "", fmt.Errorf("op=analyze.submit: empty question: %w", domain.ErrInputRejected)
	}
	if len(question) > maxQuestionLen {
		return "", fmt.Errorf("op=analyze.submit: question exceeds %d bytes: %w", maxQuestionLen, domain.ErrInputRejected)
	}
	files, err := s.Inspector.ListFiles()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("op=analyze.submit: no data files uploaded: %w", domain.ErrInputRejected)
	}
	primaryFile = strings.TrimSpace(primaryFile)
	if primaryFile != "" && !hasFile(files, primaryFile) {
		return "", fmt.Errorf("op=analyze.submit: primary file %q not found: %w", primaryFile, domain.ErrInputRejected)
	}

	id, err := s.Broker.Submit(ctx, domain.Job{Question: question, PrimaryFile: primaryFile})
	if err != nil {
		return "", err
	}
	observability.EnqueueJob()
	obsctx.LoggerFromContext(ctx).Info("job submitted",
		slog.String("job_id", id),
		slog.String("primary_file", primaryFile),
		slog.Int("question_len", len(question)))
	return id, nil
}

// Status is the single-shot job read.
func (s AnalyzeService) Status(ctx context.Context, jobID string) (domain.Job, error) {
	return s.Broker.Get(ctx, jobID)
}

// Stream subscribes to the ordered progress events of a job from fromSeq
// (<=0 means from the start) until the terminal event.
func (s AnalyzeService) Stream(ctx context.Context, jobID string, fromSeq int64) (<-chan domain.ProgressEvent, error) {
	return s.Broker.SubscribeProgress(ctx, jobID, fromSeq)
}

// Cancel sets the advisory cancellation flag; the orchestrator honors it at
// its next state boundary. Jobs already terminal are unaffected.
func (s AnalyzeService) Cancel(ctx context.Context, jobID string) error {
	if err := s.Broker.RequestCancel(ctx, jobID); err != nil {
		return err
	}
	obsctx.LoggerFromContext(ctx).Info("job cancel requested", slog.String("job_id", jobID))
	return nil
}

// ListData enumerates the uploaded data files.
func (s AnalyzeService) ListData(context.Context) ([]domain.DataFile, error) {
	return s.Inspector.ListFiles()
}

// DataSchema returns the derived schema of one data file.
func (s AnalyzeService) DataSchema(_ context.Context, name string) (schema.Schema, error) {
	return s.Inspector.Inspect(name)
}

func hasFile(files []domain.DataFile, name string) bool {
	for _, f := range files {
		if f.Name == name {
			return true
		}
	}
	return false
}
