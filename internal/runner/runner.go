// Package runner hosts the poll loop: it asks the coordinator for work
// on a fixed interval, executes granted activations through the agent
// loop, and guarantees that every grant is reported and released no
// matter how execution ends.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetd/fleetd/internal/assigner"
	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/coordinator"
	"github.com/fleetd/fleetd/internal/events/bus"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

var (
	ErrRunnerAlreadyRunning = errors.New("runner is already running")
	ErrRunnerNotRunning     = errors.New("runner is not running")
)

// Config holds the poll loop settings.
type Config struct {
	RunnerID     string
	PollInterval time.Duration
}

// Status is a point-in-time snapshot for the status API.
type Status struct {
	RunnerID          string    `json:"runner_id"`
	Running           bool      `json:"running"`
	CurrentActivation string    `json:"current_activation,omitempty"`
	CurrentAgent      string    `json:"current_agent,omitempty"`
	LastPollAt        time.Time `json:"last_poll_at,omitempty"`
}

// Runner drives the poll cycle. One activation runs at a time; the
// next poll happens only after the previous activation fully settles.
type Runner struct {
	cfg         Config
	coordinator *coordinator.Coordinator
	loop        *AgentLoop
	assigner    *assigner.Assigner
	reporter    *Reporter
	events      bus.EventBus
	metrics     *Metrics
	log         *logger.Logger

	mu         sync.RWMutex
	running    bool
	current    *v1.Activation
	lastPollAt time.Time
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func New(
	cfg Config,
	coord *coordinator.Coordinator,
	loop *AgentLoop,
	asgn *assigner.Assigner,
	reporter *Reporter,
	events bus.EventBus,
	metrics *Metrics,
	log *logger.Logger,
) *Runner {
	return &Runner{
		cfg:         cfg,
		coordinator: coord,
		loop:        loop,
		assigner:    asgn,
		reporter:    reporter,
		events:      events,
		metrics:     metrics,
		log:         log.WithRunnerID(cfg.RunnerID),
	}
}

// Start begins the poll loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRunnerAlreadyRunning
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.log.Info("runner starting", zap.Duration("poll_interval", r.cfg.PollInterval))
	r.publish(ctx, bus.SubjectRunnerStarted, nil)

	r.wg.Add(1)
	go r.pollLoop(ctx)
	return nil
}

// Stop signals the loop and waits for the in-flight activation, if
// any, to settle.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrRunnerNotRunning
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.publish(context.Background(), bus.SubjectRunnerStopped, nil)
	r.log.Info("runner stopped")
	return nil
}

// Status reports the runner's current state.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Status{
		RunnerID:   r.cfg.RunnerID,
		Running:    r.running,
		LastPollAt: r.lastPollAt,
	}
	if r.current != nil {
		s.CurrentActivation = r.current.ID
		s.CurrentAgent = r.current.AgentID
	}
	return s
}

func (r *Runner) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// First poll fires immediately, not one interval in.
	r.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("poll loop stopping, context cancelled")
			return
		case <-r.stopCh:
			r.log.Info("poll loop stopping, stop signal")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Runner) poll(ctx context.Context) {
	r.mu.Lock()
	r.lastPollAt = time.Now().UTC()
	r.mu.Unlock()
	r.metrics.PollsTotal.Inc()

	grant, err := r.coordinator.RequestActivation(ctx)
	if err != nil {
		if cerrors.IsTransient(err) {
			r.metrics.CoordinationErrors.Inc()
			r.log.WithError(err).Warn("coordination unavailable, retrying next poll")
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.log.WithError(err).Error("poll failed")
		return
	}
	if grant == nil {
		r.log.Debug("no work this poll")
		return
	}

	r.execute(ctx, grant)
}

// execute runs one granted activation end to end. The lease is
// released on every exit path; reporting happens first but its failure
// never blocks release.
func (r *Runner) execute(ctx context.Context, grant *coordinator.Grant) {
	act := grant.Activation
	log := r.log.WithActivationID(act.ID).WithAgentID(act.AgentID)

	r.mu.Lock()
	r.current = act
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	// Release on every exit path, panic unwinding included. The detached
	// context lets the release proceed after shutdown or timeout; a
	// failure here is left to TTL expiry.
	defer func() {
		if err := r.assigner.Release(context.WithoutCancel(ctx), act); err != nil {
			log.WithError(err).Error("lease release failed, TTL expiry will reclaim")
		}
	}()

	r.publish(ctx, bus.SubjectActivationGranted, map[string]interface{}{
		"activation_id": act.ID,
		"agent_id":      act.AgentID,
	})

	execCtx, cancel := context.WithTimeout(ctx, act.Budget.Timeout)
	defer cancel()

	// The lease is kept alive for the whole activation. A renewal
	// failure means exclusivity may already be lost, so the loop is
	// cancelled rather than allowed to race a second runner.
	renewalFailed := make(chan error, 1)
	keepDone := make(chan struct{})
	keepCtx, stopKeepAlive := context.WithCancel(ctx)
	go func() {
		defer close(keepDone)
		if err := r.assigner.KeepAlive(keepCtx, act); err != nil {
			renewalFailed <- err
			cancel()
		}
	}()

	metrics, execErr := r.loop.Execute(execCtx, grant)
	stopKeepAlive()
	<-keepDone

	select {
	case renewErr := <-renewalFailed:
		r.metrics.LeaseRenewalFailures.Inc()
		log.WithError(renewErr).Error("activation aborted on lease renewal failure, exclusivity may be lost")
		metrics.FinalStatus = v1.ActivationStatusFailed
		r.publish(ctx, bus.SubjectLeaseRenewalLost, map[string]interface{}{
			"activation_id": act.ID,
			"agent_id":      act.AgentID,
		})
	default:
		if execErr != nil {
			log.WithError(execErr).Warn("activation finished abnormally",
				zap.String("status", string(metrics.FinalStatus)))
		}
	}

	r.observe(metrics)
	r.publish(ctx, subjectForStatus(metrics.FinalStatus), map[string]interface{}{
		"activation_id": act.ID,
		"agent_id":      act.AgentID,
		"iterations":    metrics.Iterations,
	})

	// Report before the deferred release frees the agent for the next
	// grant. Report failure is logged and dropped, never blocking release.
	r.reporter.Report(context.WithoutCancel(ctx), act, metrics)
}

func (r *Runner) observe(metrics *v1.ActivationMetrics) {
	r.metrics.ActivationsTotal.WithLabelValues(string(metrics.FinalStatus)).Inc()
	r.metrics.IterationsTotal.Add(float64(metrics.Iterations))
	r.metrics.TokensTotal.WithLabelValues("input").Add(float64(metrics.TokensInput))
	r.metrics.TokensTotal.WithLabelValues("output").Add(float64(metrics.TokensOutput))
	r.metrics.ActivationDuration.Observe(metrics.Duration.Seconds())
}

func (r *Runner) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if r.events == nil {
		return
	}
	event := bus.NewEvent(subject, r.cfg.RunnerID, data)
	if err := r.events.Publish(ctx, subject, event); err != nil {
		r.log.WithError(err).Debug("event publish failed", zap.String("subject", subject))
	}
}

func subjectForStatus(status v1.ActivationStatus) string {
	switch status {
	case v1.ActivationStatusCompleted:
		return bus.SubjectActivationCompleted
	case v1.ActivationStatusTimedOut:
		return bus.SubjectActivationTimedOut
	default:
		return bus.SubjectActivationFailed
	}
}
