package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

// heartbeatEvery keeps idle SSE connections alive through proxies.
const heartbeatEvery = 15 * time.Second

// StreamProgress serves a job's ordered progress events over SSE. The
// connection ends after the terminal event, on client disconnect, or on
// server shutdown. `from_seq` resumes mid-stream; `Last-Event-ID` (set by
// browsers on reconnect) takes precedence and resumes after that seq.
func (s *Server) StreamProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	fromSeq := int64(1)
	if v := r.URL.Query().Get("from_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			writeError(w, r, fmt.Errorf("invalid from_seq %q: %w", v, domain.ErrInputRejected), nil)
			return
		}
		fromSeq = n
	}
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 1 {
			fromSeq = n + 1
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := s.Analyze.Stream(r.Context(), id, fromSeq)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable proxy buffering so events arrive as they happen.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := LoggerFrom(r).With(slog.String("job_id", id))
	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("progress stream client disconnected")
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error("progress event marshal failed", slog.Any("error", err))
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", ev.Seq, payload)
			flusher.Flush()
			if ev.TerminalEvent() {
				return
			}
		}
	}
}
