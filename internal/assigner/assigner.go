// Package assigner converts activation candidates into exclusive,
// time-bounded grants backed by the lease store.
package assigner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/lease"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// Config holds the assigner settings.
type Config struct {
	// LockTTL bounds how long a crashed runner can hold an agent hostage
	// before any other runner may reclaim it. It is a safety net, not a
	// replacement for the activation timeout.
	LockTTL time.Duration
}

// Assigner grants and releases activations. It is the only component that
// touches the lease store.
type Assigner struct {
	store  lease.Store
	cfg    Config
	logger *logger.Logger
	now    func() time.Time
}

// New creates an assigner.
func New(store lease.Store, cfg Config, log *logger.Logger) *Assigner {
	return &Assigner{
		store:  store,
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "assigner")),
		now:    time.Now,
	}
}

// TryAssign attempts an atomic acquire-if-absent on the candidate's agent.
// It returns a granted Activation on success, (nil, nil) when another runner
// holds an unexpired lease (expected, the candidate is simply skipped this
// cycle), and a transient error when the lease store is unreachable.
func (a *Assigner) TryAssign(ctx context.Context, cand v1.ActivationCandidate, runnerID string, budget v1.Budget) (*v1.Activation, error) {
	ok, err := a.store.Acquire(ctx, cand.AgentID, runnerID, a.cfg.LockTTL)
	if err != nil {
		return nil, cerrors.Transient("lease store unreachable", err)
	}
	if !ok {
		a.logger.Debug("lease held elsewhere, skipping candidate",
			zap.String("agent_id", cand.AgentID))
		return nil, nil
	}

	act := &v1.Activation{
		ID:        uuid.New().String(),
		AgentID:   cand.AgentID,
		RunnerID:  runnerID,
		StartedAt: a.now().UTC(),
		Budget:    budget,
		Status:    v1.ActivationStatusGranted,
	}

	a.logger.Info("activation granted",
		zap.String("activation_id", act.ID),
		zap.String("agent_id", act.AgentID),
		zap.String("runner_id", runnerID),
		zap.String("reason", cand.Reason))

	return act, nil
}

// Release frees the activation's lease if this runner still holds it. A
// false holder check is logged but not an error: it means the lease expired
// and was reclaimed, which the renewal path has already surfaced.
func (a *Assigner) Release(ctx context.Context, act *v1.Activation) error {
	released, err := a.store.Release(ctx, act.AgentID, act.RunnerID)
	if err != nil {
		return cerrors.Transient("lease store unreachable on release", err)
	}
	if !released {
		a.logger.Warn("lease was no longer held at release",
			zap.String("activation_id", act.ID),
			zap.String("agent_id", act.AgentID))
		return nil
	}
	a.logger.Info("lease released",
		zap.String("activation_id", act.ID),
		zap.String("agent_id", act.AgentID))
	return nil
}

// KeepAlive renews the activation's lease at a third of the TTL until ctx is
// cancelled. It returns nil on cancellation and a LeaseRenewalFailure as soon
// as a renewal is refused or the store is unreachable at renewal time: from
// that moment another runner may already be executing the same agent, so the
// caller must abort the activation rather than carry on unprotected.
func (a *Assigner) KeepAlive(ctx context.Context, act *v1.Activation) error {
	interval := a.cfg.LockTTL / 3
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			renewed, err := a.store.Renew(ctx, act.AgentID, act.RunnerID, a.cfg.LockTTL)
			if ctx.Err() != nil {
				// Cancelled while a renewal was in flight. The caller is
				// done with the activation; this is a clean stop, not a
				// lost lease.
				return nil
			}
			if err != nil {
				return cerrors.LeaseRenewalFailure(act.AgentID, err)
			}
			if !renewed {
				return cerrors.LeaseRenewalFailure(act.AgentID, nil)
			}
			a.logger.Debug("lease renewed",
				zap.String("activation_id", act.ID),
				zap.String("agent_id", act.AgentID))
		}
	}
}
