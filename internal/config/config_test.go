package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10, cfg.MaxRounds)
	assert.Equal(t, 120*time.Second, cfg.PerExecTimeout)
	assert.Equal(t, 600*time.Second, cfg.PerJobExecBudget)
	assert.Equal(t, 1800*time.Second, cfg.PerJobWallTimeout)
	assert.Equal(t, 10*time.Minute, cfg.LeaseDuration)
	assert.Equal(t, int64(104857600), cfg.MaxFileBytes)
	assert.Equal(t, "python3", cfg.RunnerCommand)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("MAX_ROUNDS", "3")
	t.Setenv("LEASE_DURATION", "2m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, 3, cfg.MaxRounds)
	assert.Equal(t, 2*time.Minute, cfg.LeaseDuration)
}

func TestLeaseExtensionEvery(t *testing.T) {
	t.Parallel()
	cfg := Config{LeaseDuration: 10 * time.Minute}
	assert.Equal(t, 5*time.Minute, cfg.LeaseExtensionEvery())

	cfg.LeaseExtensionInterval = 30 * time.Second
	assert.Equal(t, 30*time.Second, cfg.LeaseExtensionEvery())
}

func TestInflationRefreshMaxAge(t *testing.T) {
	t.Parallel()
	cfg := Config{InflationRefreshMaxAgeDays: 30}
	assert.Equal(t, 30*24*time.Hour, cfg.InflationRefreshMaxAge())
}
