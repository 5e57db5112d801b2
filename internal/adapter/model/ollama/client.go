// Package ollama implements domain.ModelClient against an OpenAI-compatible
// chat-completions endpoint, such as the one Ollama serves.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/observability"
	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

// Client is a synchronous chat-completions client with bounded retries.
type Client struct {
	endpoint string
	model    string
	timeout  time.Duration
	hc       *http.Client

	backoffInitial time.Duration
	backoffElapsed time.Duration
}

// Options tune the client; zero values fall back to defaults.
type Options struct {
	// Timeout bounds a single chat request end to end.
	Timeout time.Duration
	// BackoffInitial and BackoffElapsed bound the retry schedule for
	// transport faults and 5xx responses.
	BackoffInitial time.Duration
	BackoffElapsed time.Duration
}

// New constructs a Client for one endpoint and model.
func New(endpoint, model string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 600 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 500 * time.Millisecond
	}
	if opts.BackoffElapsed <= 0 {
		opts.BackoffElapsed = 30 * time.Second
	}
	return &Client{
		endpoint:       endpoint,
		model:          model,
		timeout:        opts.Timeout,
		hc:             &http.Client{Timeout: opts.Timeout},
		backoffInitial: opts.BackoffInitial,
		backoffElapsed: opts.BackoffElapsed,
	}
}

type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	Stream      bool                 `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends one conversation and returns the assistant's reply text.
// Transport faults and 5xx responses are retried under backoff and surface as
// ErrModelUnavailable when exhausted; 4xx responses and undecodable bodies are
// ErrModelProtocol and never retried.
func (c *Client) Chat(ctx context.Context, msgs []domain.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.1,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("op=model.chat: %w", err)
	}

	var out chatResponse
	op := func() error {
		start := time.Now()
		// Recreate the request each attempt so a consumed body is never reused.
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(req)
		observability.ModelRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			observability.ModelRequestsTotal.WithLabelValues("transport_error").Inc()
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			observability.ModelRequestsTotal.WithLabelValues("transport_error").Inc()
			return err
		}
		switch {
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			observability.ModelRequestsTotal.WithLabelValues("client_error").Inc()
			slog.Warn("model server rejected request",
				slog.Int("status", resp.StatusCode),
				slog.String("model", c.model),
				slog.String("body", snippet(raw, 512)))
			return backoff.Permanent(fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrModelProtocol))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			observability.ModelRequestsTotal.WithLabelValues("server_error").Inc()
			slog.Warn("model server error",
				slog.Int("status", resp.StatusCode),
				slog.String("model", c.model))
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			observability.ModelRequestsTotal.WithLabelValues("decode_error").Inc()
			return backoff.Permanent(fmt.Errorf("decode response: %v: %w", err, domain.ErrModelProtocol))
		}
		observability.ModelRequestsTotal.WithLabelValues("ok").Inc()
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.backoffInitial
	expo.MaxElapsedTime = c.backoffElapsed
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		if errors.Is(err, domain.ErrModelProtocol) {
			return "", fmt.Errorf("op=model.chat model=%s: %w", c.model, err)
		}
		return "", fmt.Errorf("op=model.chat model=%s: %v: %w", c.model, err, domain.ErrModelUnavailable)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("op=model.chat model=%s: empty choices: %w", c.model, domain.ErrModelProtocol)
	}
	return out.Choices[0].Message.Content, nil
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
