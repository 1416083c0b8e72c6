// Package config provides configuration management for fleetd.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/fleetd/fleetd/internal/common/logger"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// Config holds all configuration sections for a fleetd runner.
type Config struct {
	Runner    RunnerConfig         `mapstructure:"runner"`
	Scheduler SchedulerConfig      `mapstructure:"scheduler"`
	Lease     LeaseConfig          `mapstructure:"lease"`
	Hub       HubConfig            `mapstructure:"hub"`
	Sandbox   SandboxConfig        `mapstructure:"sandbox"`
	Executor  ExecutorConfig       `mapstructure:"executor"`
	NATS      NATSConfig           `mapstructure:"nats"`
	Server    ServerConfig         `mapstructure:"server"`
	Logging   logger.LoggingConfig `mapstructure:"logging"`
}

// RunnerConfig holds the per-runner identity and budgets.
type RunnerConfig struct {
	ID                string `mapstructure:"id"`                // unique runner identity; generated if empty
	Mode              string `mapstructure:"mode"`              // notification, exploration, hybrid
	PollInterval      int    `mapstructure:"pollInterval"`      // seconds
	ActivationTimeout int    `mapstructure:"activationTimeout"` // seconds, wall-clock ceiling for one activation
	MaxIterations     int    `mapstructure:"maxIterations"`     // executor invocations per activation
}

// SchedulerConfig holds the scheduling policy knobs.
type SchedulerConfig struct {
	MinActivationInterval int `mapstructure:"minActivationInterval"` // seconds, staleness floor
}

// LeaseConfig holds the Lease Store (redis) connection and TTL settings.
type LeaseConfig struct {
	RedisAddr     string `mapstructure:"redisAddr"`
	RedisPassword string `mapstructure:"redisPassword"`
	RedisDB       int    `mapstructure:"redisDb"`
	LockTTL       int    `mapstructure:"lockTtl"` // seconds
}

// HubConfig holds the Hub API client settings.
type HubConfig struct {
	URL            string `mapstructure:"url"`
	RequestTimeout int    `mapstructure:"requestTimeout"` // seconds, per request
	RetryAttempts  int    `mapstructure:"retryAttempts"`
}

// SandboxConfig holds the isolated execution environment settings.
type SandboxConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Image      string  `mapstructure:"image"`
	MemoryMB   int64   `mapstructure:"memoryMb"`
	CPUCores   float64 `mapstructure:"cpuCores"`
	DockerHost string  `mapstructure:"dockerHost"`
}

// ExecutorConfig holds executor selection and brain defaults.
type ExecutorConfig struct {
	Default            string  `mapstructure:"default"` // backend used when an agent does not name one
	DefaultModel       string  `mapstructure:"defaultModel"`
	DefaultTemperature float64 `mapstructure:"defaultTemperature"`
	DefaultMaxTokens   int     `mapstructure:"defaultMaxTokens"`
	WorkspaceBase      string  `mapstructure:"workspaceBase"`
}

// NATSConfig holds NATS messaging configuration. Empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ServerConfig holds the status/metrics HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// PollIntervalDuration returns the poll interval as a time.Duration.
func (r *RunnerConfig) PollIntervalDuration() time.Duration {
	return time.Duration(r.PollInterval) * time.Second
}

// ActivationTimeoutDuration returns the activation timeout as a time.Duration.
func (r *RunnerConfig) ActivationTimeoutDuration() time.Duration {
	return time.Duration(r.ActivationTimeout) * time.Second
}

// Budget returns the per-activation budget derived from the runner config.
func (r *RunnerConfig) Budget() v1.Budget {
	return v1.Budget{
		MaxIterations: r.MaxIterations,
		Timeout:       r.ActivationTimeoutDuration(),
	}
}

// MinActivationIntervalDuration returns the staleness floor as a time.Duration.
func (s *SchedulerConfig) MinActivationIntervalDuration() time.Duration {
	return time.Duration(s.MinActivationInterval) * time.Second
}

// LockTTLDuration returns the lease TTL as a time.Duration.
func (l *LeaseConfig) LockTTLDuration() time.Duration {
	return time.Duration(l.LockTTL) * time.Second
}

// RequestTimeoutDuration returns the hub request timeout as a time.Duration.
func (h *HubConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(h.RequestTimeout) * time.Second
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Spec returns the sandbox spec derived from the sandbox config.
func (s *SandboxConfig) Spec() v1.SandboxSpec {
	return v1.SandboxSpec{
		Image:    s.Image,
		MemoryMB: s.MemoryMB,
		CPUCores: s.CPUCores,
	}
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Runner defaults
	v.SetDefault("runner.id", "")
	v.SetDefault("runner.mode", "hybrid")
	v.SetDefault("runner.pollInterval", 15)
	v.SetDefault("runner.activationTimeout", 1800)
	v.SetDefault("runner.maxIterations", 5)

	// Scheduler defaults
	v.SetDefault("scheduler.minActivationInterval", 900)

	// Lease store defaults
	v.SetDefault("lease.redisAddr", "localhost:6379")
	v.SetDefault("lease.redisPassword", "")
	v.SetDefault("lease.redisDb", 0)
	v.SetDefault("lease.lockTtl", 300)

	// Hub defaults
	v.SetDefault("hub.url", "http://localhost:8080")
	v.SetDefault("hub.requestTimeout", 10)
	v.SetDefault("hub.retryAttempts", 3)

	// Sandbox defaults
	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.image", "fleetd/agent-sandbox:latest")
	v.SetDefault("sandbox.memoryMb", 4096)
	v.SetDefault("sandbox.cpuCores", 2.0)
	v.SetDefault("sandbox.dockerHost", "unix:///var/run/docker.sock")

	// Executor defaults
	v.SetDefault("executor.default", "claude-code")
	v.SetDefault("executor.defaultModel", "")
	v.SetDefault("executor.defaultTemperature", 0.0)
	v.SetDefault("executor.defaultMaxTokens", 0)
	v.SetDefault("executor.workspaceBase", "/var/lib/fleetd/workspaces")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "fleetd-runner")
	v.SetDefault("nats.maxReconnects", 10)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8086)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// detectDefaultLogFormat returns "json" in production-like environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("FLEETD_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix FLEETD_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FLEETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the documented environment surface. AutomaticEnv
	// does not handle camelCase to SNAKE_CASE conversion, so keys whose env
	// name differs from the config key naming are bound by hand.
	_ = v.BindEnv("runner.id", "FLEETD_RUNNER_ID")
	_ = v.BindEnv("runner.mode", "FLEETD_RUNNER_MODE")
	_ = v.BindEnv("runner.pollInterval", "FLEETD_POLL_INTERVAL")
	_ = v.BindEnv("runner.activationTimeout", "FLEETD_ACTIVATION_TIMEOUT")
	_ = v.BindEnv("runner.maxIterations", "FLEETD_MAX_ITERATIONS")
	_ = v.BindEnv("scheduler.minActivationInterval", "FLEETD_MIN_ACTIVATION_INTERVAL")
	_ = v.BindEnv("lease.lockTtl", "FLEETD_LOCK_TTL")
	_ = v.BindEnv("lease.redisAddr", "FLEETD_REDIS_ADDR")
	_ = v.BindEnv("hub.url", "FLEETD_HUB_URL")
	_ = v.BindEnv("sandbox.enabled", "FLEETD_SANDBOX_ENABLED")
	_ = v.BindEnv("sandbox.image", "FLEETD_SANDBOX_IMAGE")
	_ = v.BindEnv("sandbox.memoryMb", "FLEETD_SANDBOX_MEMORY")
	_ = v.BindEnv("sandbox.cpuCores", "FLEETD_SANDBOX_CPU")
	_ = v.BindEnv("executor.defaultModel", "FLEETD_DEFAULT_MODEL")
	_ = v.BindEnv("executor.defaultTemperature", "FLEETD_DEFAULT_TEMPERATURE")
	_ = v.BindEnv("executor.defaultMaxTokens", "FLEETD_DEFAULT_MAX_TOKENS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fleetd/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Runner.ID == "" {
		cfg.Runner.ID = generateRunnerID()
	}
	if !v1.ActivationMode(cfg.Runner.Mode).Valid() {
		errs = append(errs, "runner.mode must be one of: notification, exploration, hybrid")
	}
	if cfg.Runner.PollInterval <= 0 {
		errs = append(errs, "runner.pollInterval must be positive")
	}
	if cfg.Runner.ActivationTimeout <= 0 {
		errs = append(errs, "runner.activationTimeout must be positive")
	}
	if cfg.Runner.MaxIterations <= 0 {
		errs = append(errs, "runner.maxIterations must be positive")
	}

	if cfg.Scheduler.MinActivationInterval < 0 {
		errs = append(errs, "scheduler.minActivationInterval must not be negative")
	}

	if cfg.Lease.RedisAddr == "" {
		errs = append(errs, "lease.redisAddr is required")
	}
	if cfg.Lease.LockTTL <= 0 {
		errs = append(errs, "lease.lockTtl must be positive")
	}

	if cfg.Hub.URL == "" {
		errs = append(errs, "hub.url is required")
	}
	if cfg.Hub.RetryAttempts <= 0 {
		errs = append(errs, "hub.retryAttempts must be positive")
	}

	if cfg.Sandbox.Enabled {
		if cfg.Sandbox.Image == "" {
			errs = append(errs, "sandbox.image is required when sandbox.enabled is true")
		}
		if cfg.Sandbox.MemoryMB <= 0 {
			errs = append(errs, "sandbox.memoryMb must be positive")
		}
		if cfg.Sandbox.CPUCores <= 0 {
			errs = append(errs, "sandbox.cpuCores must be positive")
		}
	}

	if cfg.Executor.Default == "" {
		errs = append(errs, "executor.default is required")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateRunnerID derives a stable-ish default runner identity from the host
// name plus a random suffix, so two runners on one host never collide.
func generateRunnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "runner"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}
