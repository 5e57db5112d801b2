// Package main starts the HTTP API: job submission, status, cancellation,
// the SSE progress stream, and data-directory reads.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/broker/redisbroker"
	httpserver "github.com/fairyhunter13/ai-data-analyst/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/observability"
	"github.com/fairyhunter13/ai-data-analyst/internal/app"
	"github.com/fairyhunter13/ai-data-analyst/internal/config"
	"github.com/fairyhunter13/ai-data-analyst/internal/loader"
	"github.com/fairyhunter13/ai-data-analyst/internal/schema"
	"github.com/fairyhunter13/ai-data-analyst/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.BrokerAddr,
		Password: cfg.BrokerPassword,
		DB:       cfg.BrokerDB,
	})
	defer func() { _ = rdb.Close() }()

	broker := redisbroker.New(rdb, redisbroker.Options{
		LeaseDuration:  cfg.LeaseDuration,
		MaxAttempts:    cfg.MaxJobAttempts,
		Retention:      cfg.JobRetention,
		BackoffInitial: cfg.BrokerBackoffInitial,
		BackoffMax:     cfg.BrokerBackoffMax,
		BackoffElapsed: cfg.BrokerBackoffElapsed,
	})

	inspector := schema.NewInspector(loader.New(cfg.MaxFileBytes), cfg.DataDir)
	analyze := usecase.NewAnalyzeService(broker, inspector)
	srv := httpserver.NewServer(cfg, analyze, app.BrokerCheck(rdb))

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      app.BuildRouter(cfg, srv),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout, // zero: SSE streams stay open
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("api server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
