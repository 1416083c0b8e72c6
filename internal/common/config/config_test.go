package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Runner.ID, "runner id is generated when unset")
	assert.Equal(t, "hybrid", cfg.Runner.Mode)
	assert.Equal(t, 15*time.Second, cfg.Runner.PollIntervalDuration())
	assert.Equal(t, 30*time.Minute, cfg.Runner.ActivationTimeoutDuration())
	assert.Equal(t, 5, cfg.Runner.MaxIterations)
	assert.Equal(t, 900*time.Second, cfg.Scheduler.MinActivationIntervalDuration())
	assert.Equal(t, 300*time.Second, cfg.Lease.LockTTLDuration())
	assert.Equal(t, "claude-code", cfg.Executor.Default)
	assert.False(t, cfg.Sandbox.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FLEETD_RUNNER_ID", "runner-42")
	t.Setenv("FLEETD_RUNNER_MODE", "exploration")
	t.Setenv("FLEETD_POLL_INTERVAL", "30")
	t.Setenv("FLEETD_ACTIVATION_TIMEOUT", "600")
	t.Setenv("FLEETD_MAX_ITERATIONS", "7")
	t.Setenv("FLEETD_MIN_ACTIVATION_INTERVAL", "120")
	t.Setenv("FLEETD_LOCK_TTL", "90")
	t.Setenv("FLEETD_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("FLEETD_HUB_URL", "http://hub.internal:8080")
	t.Setenv("FLEETD_SANDBOX_ENABLED", "true")
	t.Setenv("FLEETD_SANDBOX_IMAGE", "fleet/sandbox:v2")
	t.Setenv("FLEETD_SANDBOX_MEMORY", "2048")
	t.Setenv("FLEETD_SANDBOX_CPU", "1.5")
	t.Setenv("FLEETD_DEFAULT_MODEL", "some-model")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "runner-42", cfg.Runner.ID)
	assert.Equal(t, "exploration", cfg.Runner.Mode)
	assert.Equal(t, 30*time.Second, cfg.Runner.PollIntervalDuration())
	assert.Equal(t, 10*time.Minute, cfg.Runner.ActivationTimeoutDuration())
	assert.Equal(t, 7, cfg.Runner.MaxIterations)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.MinActivationIntervalDuration())
	assert.Equal(t, 90*time.Second, cfg.Lease.LockTTLDuration())
	assert.Equal(t, "redis.internal:6379", cfg.Lease.RedisAddr)
	assert.Equal(t, "http://hub.internal:8080", cfg.Hub.URL)
	assert.True(t, cfg.Sandbox.Enabled)
	assert.Equal(t, "fleet/sandbox:v2", cfg.Sandbox.Image)
	assert.Equal(t, int64(2048), cfg.Sandbox.MemoryMB)
	assert.InDelta(t, 1.5, cfg.Sandbox.CPUCores, 0.001)
	assert.Equal(t, "some-model", cfg.Executor.DefaultModel)

	spec := cfg.Sandbox.Spec()
	assert.Equal(t, "fleet/sandbox:v2", spec.Image)
	assert.Equal(t, int64(2048), spec.MemoryMB)
}

func TestValidateRejectsBadMode(t *testing.T) {
	t.Setenv("FLEETD_RUNNER_MODE", "turbo")

	_, err := LoadWithPath(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner.mode")
}

func TestValidateRejectsNonPositiveBudgets(t *testing.T) {
	t.Setenv("FLEETD_MAX_ITERATIONS", "0")
	t.Setenv("FLEETD_ACTIVATION_TIMEOUT", "-5")

	_, err := LoadWithPath(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxIterations")
	assert.Contains(t, err.Error(), "activationTimeout")
}

func TestBudgetDerivation(t *testing.T) {
	r := RunnerConfig{MaxIterations: 3, ActivationTimeout: 120}
	b := r.Budget()
	assert.Equal(t, 3, b.MaxIterations)
	assert.Equal(t, 2*time.Minute, b.Timeout)
}
