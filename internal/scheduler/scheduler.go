// Package scheduler decides which agents are due for activation.
package scheduler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/hub"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// Candidate reasons reported back to the Hub and logs.
const (
	ReasonInbox     = "inbox"
	ReasonDiscovery = "discovery"
)

// Config holds the scheduling policy knobs.
type Config struct {
	// MinActivationInterval is the staleness floor: an agent activated more
	// recently than this is never a candidate, whatever its signals say.
	MinActivationInterval time.Duration

	// RunnerMode restricts which signal classes this runner serves. A
	// notification-mode runner never picks up exploration work, and vice
	// versa; hybrid serves both.
	RunnerMode v1.ActivationMode
}

// Pass is the result of one scheduling pass: an ordered, finite candidate
// sequence plus the fleet snapshot it was derived from. Candidates are
// recomputed fresh on every pass; restarting means running a new pass.
type Pass struct {
	Candidates []v1.ActivationCandidate
	Agents     map[string]v1.AgentConfig
}

// Scheduler computes activation candidates from live Hub state. It holds no
// state between passes and never activates agents from cached fleet data.
type Scheduler struct {
	hub    hub.Client
	cfg    Config
	logger *logger.Logger
	now    func() time.Time
}

// New creates a scheduler.
func New(hubClient hub.Client, cfg Config, log *logger.Logger) *Scheduler {
	return &Scheduler{
		hub:    hubClient,
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "scheduler")),
		now:    time.Now,
	}
}

// Run executes one scheduling pass. If the Hub is unreachable it returns an
// empty pass and a transient error; stale fleet state is never used.
func (s *Scheduler) Run(ctx context.Context) (*Pass, error) {
	agents, err := s.hub.ListAgents(ctx)
	if err != nil {
		return nil, cerrors.Transient("scheduling pass aborted", err)
	}

	now := s.now()
	pass := &Pass{
		Agents: make(map[string]v1.AgentConfig, len(agents)),
	}

	for _, agent := range agents {
		pass.Agents[agent.ID] = agent

		if !s.servesMode(agent.Mode) {
			continue
		}

		lastAt, err := s.hub.LastActivation(ctx, agent.ID)
		if err != nil {
			return nil, cerrors.Transient("scheduling pass aborted", err)
		}

		// Staleness floor: an agent may not be reactivated until
		// MinActivationInterval has passed, whatever its signals say.
		if !lastAt.IsZero() && now.Sub(lastAt) < s.cfg.MinActivationInterval {
			continue
		}

		reason, due, err := s.dueReason(ctx, agent)
		if err != nil {
			return nil, cerrors.Transient("scheduling pass aborted", err)
		}
		if !due {
			continue
		}

		pass.Candidates = append(pass.Candidates, v1.ActivationCandidate{
			AgentID:          agent.ID,
			Mode:             agent.Mode,
			LastActivationAt: lastAt,
			Reason:           reason,
		})
	}

	// Longest-idle first; agent_id breaks ties so two passes over identical
	// input produce identical order.
	sort.Slice(pass.Candidates, func(i, j int) bool {
		ci, cj := pass.Candidates[i], pass.Candidates[j]
		if !ci.LastActivationAt.Equal(cj.LastActivationAt) {
			return ci.LastActivationAt.Before(cj.LastActivationAt)
		}
		return ci.AgentID < cj.AgentID
	})

	s.logger.Debug("scheduling pass complete",
		zap.Int("fleet_size", len(agents)),
		zap.Int("candidates", len(pass.Candidates)))

	return pass, nil
}

// servesMode reports whether this runner's mode overlaps the agent's mode.
func (s *Scheduler) servesMode(agentMode v1.ActivationMode) bool {
	if s.cfg.RunnerMode == v1.ActivationModeHybrid || agentMode == v1.ActivationModeHybrid {
		return true
	}
	return s.cfg.RunnerMode == agentMode
}

// dueReason consults only the signals the agent's mode (intersected with the
// runner's mode) cares about, and returns the first satisfied one.
func (s *Scheduler) dueReason(ctx context.Context, agent v1.AgentConfig) (string, bool, error) {
	wantInbox := agent.Mode != v1.ActivationModeExploration && s.cfg.RunnerMode != v1.ActivationModeExploration
	wantDiscovery := agent.Mode != v1.ActivationModeNotification && s.cfg.RunnerMode != v1.ActivationModeNotification

	if wantInbox {
		depth, err := s.hub.InboxDepth(ctx, agent.ID)
		if err != nil {
			return "", false, err
		}
		if depth > 0 {
			return ReasonInbox, true, nil
		}
	}

	if wantDiscovery {
		due, err := s.hub.DiscoveryDue(ctx, agent.ID)
		if err != nil {
			return "", false, err
		}
		if due {
			return ReasonDiscovery, true, nil
		}
	}

	return "", false, nil
}
