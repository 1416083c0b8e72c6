// Package main is the entry point for the fleetd runner daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fleetd/fleetd/internal/api"
	"github.com/fleetd/fleetd/internal/assigner"
	"github.com/fleetd/fleetd/internal/common/config"
	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/contextbuilder"
	"github.com/fleetd/fleetd/internal/coordinator"
	"github.com/fleetd/fleetd/internal/credentials"
	"github.com/fleetd/fleetd/internal/events/bus"
	"github.com/fleetd/fleetd/internal/executor"
	"github.com/fleetd/fleetd/internal/hub"
	"github.com/fleetd/fleetd/internal/lease"
	"github.com/fleetd/fleetd/internal/runner"
	"github.com/fleetd/fleetd/internal/sandbox"
	"github.com/fleetd/fleetd/internal/scheduler"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting fleetd runner",
		zap.String("runner_id", cfg.Runner.ID),
		zap.String("mode", cfg.Runner.Mode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Executor registry. An unknown default backend is a configuration
	// error and fatal before any lease is touched.
	registry := executor.NewRegistry()
	defaultBackend, err := registry.Get(cfg.Executor.Default)
	if err != nil {
		log.Fatal("invalid default executor", zap.Error(err))
	}
	if !defaultBackend.IsAvailable(ctx) {
		log.Warn("default executor tooling not found on PATH",
			zap.String("executor", defaultBackend.Name()))
	}

	// Lease store.
	store := lease.NewRedisStore(cfg.Lease, log)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		log.Fatal("lease store unreachable", zap.Error(err))
	}
	log.Info("connected to lease store", zap.String("addr", cfg.Lease.RedisAddr))

	// Sandbox provider. Docker must answer a ping up front when the
	// sandbox is enabled; the direct provider needs nothing.
	var provider sandbox.Provider
	if cfg.Sandbox.Enabled {
		dockerProvider, err := sandbox.NewDockerProvider(cfg.Sandbox.DockerHost, log)
		if err != nil {
			log.Fatal("failed to create docker sandbox provider", zap.Error(err))
		}
		defer dockerProvider.Close()
		if err := dockerProvider.Ping(ctx); err != nil {
			log.Fatal("docker daemon unreachable with sandbox enabled", zap.Error(err))
		}
		provider = dockerProvider
		log.Info("docker sandbox enabled", zap.String("image", cfg.Sandbox.Image))
	} else {
		provider = sandbox.NewDirectProvider(log)
		log.Info("sandbox disabled, executing directly on host")
	}

	// Event bus. Empty NATS URL keeps lifecycle events in-process.
	var events bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to nats", zap.Error(err))
		}
		events = natsBus
	} else {
		events = bus.NewMemoryBus(log)
	}
	defer events.Close()

	// Coordination core.
	hubClient := hub.NewHTTPClient(cfg.Hub, log)
	sched := scheduler.New(hubClient, scheduler.Config{
		MinActivationInterval: cfg.Scheduler.MinActivationIntervalDuration(),
		RunnerMode:            v1.ActivationMode(cfg.Runner.Mode),
	}, log)
	asgn := assigner.New(store, assigner.Config{
		LockTTL: cfg.Lease.LockTTLDuration(),
	}, log)
	coord := coordinator.New(sched, asgn, registry,
		cfg.Runner.ID, cfg.Runner.Budget(), cfg.Executor.Default, log)

	// Execution side.
	creds := credentials.NewManager(log,
		credentials.NewEnvProvider(),
		credentials.NewFileProvider(filepath.Join("/etc/fleetd", "credentials.json")))
	builder := contextbuilder.New(cfg.Executor.WorkspaceBase)
	loop := runner.NewAgentLoop(registry, provider, builder, creds, cfg.Sandbox.Spec(), log)

	registryProm := prometheus.NewRegistry()
	metrics := runner.NewMetrics(registryProm)
	reporter := runner.NewReporter(hubClient, log)

	r := runner.New(runner.Config{
		RunnerID:     cfg.Runner.ID,
		PollInterval: cfg.Runner.PollIntervalDuration(),
	}, coord, loop, asgn, reporter, events, metrics, log)

	if err := r.Start(ctx); err != nil {
		log.Fatal("failed to start runner", zap.Error(err))
	}

	apiServer := api.NewServer(cfg.Server, r, registryProm, log)
	if err := apiServer.Start(); err != nil {
		log.Fatal("failed to start api server", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down fleetd runner")
	cancel()

	if err := r.Stop(); err != nil {
		log.Warn("runner stop", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("api server shutdown", zap.Error(err))
	}

	log.Info("fleetd runner stopped")
}
