package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	lg := slog.New(slog.NewJSONHandler(&buf, nil)).With(slog.String("request_id", "req-1"))

	ctx := ContextWithLogger(context.Background(), lg)
	LoggerFromContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestLoggerFromContextDefaults(t *testing.T) {
	t.Parallel()
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))
	assert.Equal(t, slog.Default(), LoggerFromContext(nil)) //nolint:staticcheck
	// A nil logger must not displace the default.
	assert.Equal(t, slog.Default(), LoggerFromContext(ContextWithLogger(context.Background(), nil)))
}

func TestRequestIDRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := ContextWithRequestID(context.Background(), "req-9")
	assert.Equal(t, "req-9", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(nil)) //nolint:staticcheck
}
