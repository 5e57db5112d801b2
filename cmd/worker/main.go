// Package main starts a worker: it reserves jobs from the broker, drives each
// through the orchestrator, and sweeps expired leases.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/broker/redisbroker"
	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/model/ollama"
	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/observability"
	"github.com/fairyhunter13/ai-data-analyst/internal/adapter/runner/subprocess"
	"github.com/fairyhunter13/ai-data-analyst/internal/config"
	"github.com/fairyhunter13/ai-data-analyst/internal/inflation"
	"github.com/fairyhunter13/ai-data-analyst/internal/loader"
	"github.com/fairyhunter13/ai-data-analyst/internal/orchestrator"
	"github.com/fairyhunter13/ai-data-analyst/internal/schema"
	"github.com/fairyhunter13/ai-data-analyst/internal/worker"
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

	// Worker-side metrics on a dedicated port.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

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

	model := ollama.New(cfg.ModelEndpoint, cfg.ModelName, ollama.Options{
		Timeout: cfg.ModelRequestTimeout,
	})
	runner := subprocess.New(cfg.RunnerCommand, cfg.DataDir)
	inspector := schema.NewInspector(loader.New(cfg.MaxFileBytes), cfg.DataDir)
	cache := inflation.NewCache(
		cfg.InflationCachePath,
		cfg.InflationSourceURL,
		cfg.InflationRefreshMaxAge(),
		inflation.NewHTTPFetcher(cfg.InflationSourceURL, cfg.InflationFetchTimeout),
	)

	orch := orchestrator.New(broker, model, runner, inspector, cache, orchestrator.Bounds{
		MaxRounds:      cfg.MaxRounds,
		PerExecTimeout: cfg.PerExecTimeout,
		ExecBudget:     cfg.PerJobExecBudget,
		WallTimeout:    cfg.PerJobWallTimeout,
		ContextTokens:  cfg.ModelContextTokens,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting workers",
		slog.Int("count", cfg.WorkerCount),
		slog.String("model", cfg.ModelName),
		slog.String("env", cfg.AppEnv))

	// WORKER_COUNT scales worker loops as goroutines inside this process; a
	// crash takes all of them down together. Run several worker processes
	// (each with WORKER_COUNT=1) when crash isolation matters; the broker's
	// lease reclaim covers either layout.
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		w := worker.New(broker, orch, worker.Options{
			LeaseDuration: cfg.LeaseDuration,
			ExtendEvery:   cfg.LeaseExtensionEvery(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	reclaimer := redisbroker.NewReclaimer(broker, 30*time.Second)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reclaimer.Run(ctx)
	}()

	wg.Wait()
	slog.Info("all workers stopped")
}
