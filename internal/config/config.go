// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Broker (Redis) connection target for the queue and job/progress records.
	BrokerAddr     string `env:"BROKER_ADDRESS" envDefault:"localhost:6379"`
	BrokerPassword string `env:"BROKER_PASSWORD"`
	BrokerDB       int    `env:"BROKER_DB" envDefault:"0"`

	// Model server (OpenAI-compatible chat completions; Ollama serves one).
	ModelEndpoint       string        `env:"MODEL_ENDPOINT" envDefault:"http://localhost:11434"`
	ModelName           string        `env:"MODEL_NAME" envDefault:"llama3:8b"`
	ModelContextTokens  int           `env:"MODEL_CONTEXT_TOKENS" envDefault:"8192"`
	ModelRequestTimeout time.Duration `env:"PER_MODEL_REQUEST_TIMEOUT" envDefault:"600s"`

	// Data area and reference cache.
	DataDir                    string        `env:"DATA_DIR" envDefault:"/app/data"`
	InflationCachePath         string        `env:"INFLATION_CACHE_PATH" envDefault:"/app/cache/inflation_data.json"`
	InflationSourceURL         string        `env:"INFLATION_SOURCE_URL" envDefault:"https://www.usinflationcalculator.com/inflation/historical-inflation-rates/"`
	InflationFetchTimeout      time.Duration `env:"INFLATION_FETCH_TIMEOUT" envDefault:"10s"`
	InflationRefreshMaxAgeDays int           `env:"INFLATION_REFRESH_MAX_AGE_DAYS" envDefault:"30"`

	// Worker pool and job bounds.
	WorkerCount            int           `env:"WORKER_COUNT" envDefault:"1"`
	MaxJobAttempts         int           `env:"MAX_JOB_ATTEMPTS" envDefault:"1"`
	LeaseDuration          time.Duration `env:"LEASE_DURATION" envDefault:"10m"`
	LeaseExtensionInterval time.Duration `env:"LEASE_EXTENSION_INTERVAL" envDefault:"0"`
	PerExecTimeout         time.Duration `env:"PER_EXEC_TIMEOUT" envDefault:"120s"`
	PerJobExecBudget       time.Duration `env:"PER_JOB_EXEC_BUDGET" envDefault:"600s"`
	PerJobWallTimeout      time.Duration `env:"PER_JOB_WALL_TIMEOUT" envDefault:"1800s"`
	MaxRounds              int           `env:"MAX_ROUNDS" envDefault:"10"`
	MaxFileBytes           int64         `env:"MAX_FILE_BYTES" envDefault:"104857600"`

	// Code-execution tool.
	RunnerCommand string `env:"RUNNER_COMMAND" envDefault:"python3"`
	SandboxDir    string `env:"SANDBOX_DIR" envDefault:"/app/sandbox"`

	// Retention for finished job records in the broker.
	JobRetention time.Duration `env:"JOB_RETENTION" envDefault:"24h"`

	// Broker operation backoff.
	BrokerBackoffInitial time.Duration `env:"BROKER_BACKOFF_INITIAL" envDefault:"100ms"`
	BrokerBackoffMax     time.Duration `env:"BROKER_BACKOFF_MAX" envDefault:"5s"`
	BrokerBackoffElapsed time.Duration `env:"BROKER_BACKOFF_MAX_ELAPSED" envDefault:"30s"`

	// HTTP front.
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Observability.
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-data-analyst"`
	MetricsPort     int    `env:"METRICS_PORT" envDefault:"9090"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// LeaseExtensionEvery returns the lease-extension ticker interval, defaulting
// to half the lease duration when unset.
func (c Config) LeaseExtensionEvery() time.Duration {
	if c.LeaseExtensionInterval > 0 {
		return c.LeaseExtensionInterval
	}
	return c.LeaseDuration / 2
}

// InflationRefreshMaxAge returns the refresh trigger age as a duration.
func (c Config) InflationRefreshMaxAge() time.Duration {
	return time.Duration(c.InflationRefreshMaxAgeDays) * 24 * time.Hour
}
