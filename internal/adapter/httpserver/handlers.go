package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-data-analyst/internal/config"
	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
	"github.com/fairyhunter13/ai-data-analyst/internal/usecase"
)

// maxBodyBytes bounds a submission body; questions are short.
const maxBodyBytes = 64 << 10

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Analyze     usecase.AnalyzeService
	BrokerCheck func(ctx domain.Context) error

	validate *validator.Validate
}

// NewServer constructs the handler set.
func NewServer(cfg config.Config, analyze usecase.AnalyzeService, brokerCheck func(ctx domain.Context) error) *Server {
	return &Server{
		Cfg:         cfg,
		Analyze:     analyze,
		BrokerCheck: brokerCheck,
		validate:    validator.New(),
	}
}

type submitRequest struct {
	Question    string `json:"question" validate:"required,min=1,max=4000"`
	PrimaryFile string `json:"primary_file" validate:"omitempty,max=255"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// SubmitAnalysis accepts a question and returns the job id immediately.
func (s *Server) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, fmt.Errorf("read body: %w", domain.ErrInputRejected), nil)
		return
	}
	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, fmt.Errorf("invalid json body: %w", domain.ErrInputRejected), nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%v: %w", err, domain.ErrInputRejected), nil)
		return
	}
	id, err := s.Analyze.Submit(r.Context(), req.Question, req.PrimaryFile)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ID: id})
}

type jobStatusResponse struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
	Attempts    int       `json:"attempts"`
	Result      string    `json:"result,omitempty"`
	Error       *jobError `json:"error,omitempty"`
}

type jobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// JobStatus is the single-shot job read.
func (s *Server) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.Analyze.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	resp := jobStatusResponse{
		ID:          job.ID,
		State:       string(job.State),
		SubmittedAt: job.SubmittedAt,
		Attempts:    job.Attempts,
	}
	switch job.State {
	case domain.JobSucceeded:
		resp.Result = job.Result
	case domain.JobFailed, domain.JobCanceled:
		resp.Error = &jobError{Kind: job.ErrorKind, Message: job.ErrorMsg}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelJob sets the advisory cancellation flag.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Analyze.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancel-requested"})
}

type dataFileResponse struct {
	Name   string    `json:"name"`
	Size   int64     `json:"size"`
	MTime  time.Time `json:"mtime"`
	Format string    `json:"format"`
}

// ListDataFiles enumerates the uploaded data files.
func (s *Server) ListDataFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.Analyze.ListData(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	out := make([]dataFileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, dataFileResponse{Name: f.Name, Size: f.Size, MTime: f.MTime, Format: f.Format})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

type columnResponse struct {
	Name         string   `json:"name"`
	InferredType string   `json:"inferred_type"`
	SampleValues []string `json:"sample_values,omitempty"`
	Synonyms     []string `json:"synonyms,omitempty"`
}

// DataFileSchema returns the derived schema of one data file.
func (s *Server) DataFileSchema(w http.ResponseWriter, r *http.Request) {
	sc, err := s.Analyze.DataSchema(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	cols := make([]columnResponse, 0, len(sc.Columns))
	hints := map[string][]string{}
	for _, h := range sc.Hints {
		hints[h.Column] = h.Synonyms
	}
	for _, c := range sc.Columns {
		cols = append(cols, columnResponse{
			Name:         c.Name,
			InferredType: string(c.InferredType),
			SampleValues: c.SampleValues,
			Synonyms:     hints[c.Name],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file":               sc.File,
		"format":             sc.Format,
		"row_count_estimate": sc.RowCountEstimate,
		"columns":            cols,
	})
}

// Healthz is the liveness probe.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports readiness: the broker must answer.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	if s.BrokerCheck != nil {
		if err := s.BrokerCheck(r.Context()); err != nil {
			slog.Warn("readiness check failed", slog.Any("error", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "broker": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
