// Package httpserver is the HTTP front of the analysis service: job
// submission, status, cancellation, the SSE progress stream, and read-only
// data-directory endpoints.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
	obsctx "github.com/fairyhunter13/ai-data-analyst/internal/observability"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInputRejected):
		code = http.StatusBadRequest
		codeStr = "INPUT_REJECTED"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrUnsupportedFormat):
		code = http.StatusBadRequest
		codeStr = "UNSUPPORTED_FORMAT"
	case errors.Is(err, domain.ErrFileTooLarge):
		code = http.StatusBadRequest
		codeStr = "FILE_TOO_LARGE"
	case errors.Is(err, domain.ErrMalformedCSV),
		errors.Is(err, domain.ErrMalformedJSON),
		errors.Is(err, domain.ErrMalformedExcel):
		code = http.StatusUnprocessableEntity
		codeStr = "MALFORMED_FILE"
	case errors.Is(err, domain.ErrBrokerUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "BROKER_UNAVAILABLE"
	}
	if code >= http.StatusInternalServerError {
		obsctx.LoggerFromContext(r.Context()).Error("request failed",
			slog.String("code", codeStr), slog.Any("error", err))
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{
		Code:      codeStr,
		Message:   err.Error(),
		RequestID: obsctx.RequestIDFromContext(r.Context()),
		Details:   details,
	}})
}
