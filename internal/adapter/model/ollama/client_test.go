package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestChatReturnsAssistantContent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3:8b", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		_, _ = w.Write([]byte(completionBody("```python\nprint(1)\n```")))
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3:8b", Options{Timeout: 5 * time.Second})
	got, err := c.Chat(context.Background(), []domain.ChatMessage{
		{Role: "system", Content: "you are an analyst"},
		{Role: "user", Content: "count rows"},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "print(1)")
}

func TestChatRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	c := New(srv.URL, "m", Options{Timeout: 5 * time.Second, BackoffInitial: time.Millisecond, BackoffElapsed: 2 * time.Second})
	got, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestChatExhaustedRetriesIsModelUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "m", Options{Timeout: 2 * time.Second, BackoffInitial: time.Millisecond, BackoffElapsed: 50 * time.Millisecond})
	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}})
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestChatClientErrorIsProtocolAndNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "nope", Options{Timeout: 2 * time.Second, BackoffInitial: time.Millisecond, BackoffElapsed: time.Second})
	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}})
	assert.ErrorIs(t, err, domain.ErrModelProtocol)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatEmptyChoicesIsProtocolError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "m", Options{Timeout: 2 * time.Second})
	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}})
	assert.ErrorIs(t, err, domain.ErrModelProtocol)
}

func TestChatUndecodableBodyIsProtocolError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := New(srv.URL, "m", Options{Timeout: 2 * time.Second, BackoffInitial: time.Millisecond, BackoffElapsed: 50 * time.Millisecond})
	_, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "q"}})
	assert.ErrorIs(t, err, domain.ErrModelProtocol)
}
