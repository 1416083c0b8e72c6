// Package coordinator ties scheduling and assignment together. On each
// runner poll it computes the due candidates, walks them in order, and
// grants the first agent whose lease it wins.
package coordinator

import (
	"context"

	"go.uber.org/zap"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/scheduler"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// Catalog reports which executor backends this runner can drive.
// Agents configured for a backend the runner does not carry are skipped
// before any lease is taken, so a misconfigured agent never burns a
// lock slot.
type Catalog interface {
	Supports(name string) bool
}

// Planner produces the ordered activation candidates for one poll.
type Planner interface {
	Run(ctx context.Context) (*scheduler.Pass, error)
}

// Granter attempts exclusive assignment of a single candidate.
type Granter interface {
	TryAssign(ctx context.Context, cand v1.ActivationCandidate, runnerID string, budget v1.Budget) (*v1.Activation, error)
}

// Grant is a won assignment plus the full agent configuration the
// runner needs to execute it. Candidates carry only identity, so the
// coordinator resolves the config from the same pass that produced
// them.
type Grant struct {
	Activation *v1.Activation
	Agent      v1.AgentConfig
}

type Coordinator struct {
	planner     Planner
	granter     Granter
	catalog     Catalog
	runnerID    string
	budget      v1.Budget
	defaultExec string
	log         *logger.Logger
}

func New(planner Planner, granter Granter, catalog Catalog, runnerID string, budget v1.Budget, defaultExec string, log *logger.Logger) *Coordinator {
	return &Coordinator{
		planner:     planner,
		granter:     granter,
		catalog:     catalog,
		runnerID:    runnerID,
		budget:      budget,
		defaultExec: defaultExec,
		log:         log.WithFields(zap.String("component", "coordinator")),
	}
}

// RequestActivation runs one scheduling pass and tries the candidates
// in order until a lease is won. A nil grant with a nil error means the
// fleet has no work for this runner right now; the caller sleeps until
// the next poll.
func (c *Coordinator) RequestActivation(ctx context.Context) (*Grant, error) {
	pass, err := c.planner.Run(ctx)
	if err != nil {
		return nil, err
	}

	for _, cand := range pass.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		agent, ok := pass.Agents[cand.AgentID]
		if !ok {
			// Planner bug rather than a fleet condition. Skip so the
			// remaining candidates still get a shot.
			c.log.WithAgentID(cand.AgentID).Warn("candidate has no agent config, skipping")
			continue
		}

		// Agents that name no backend get the runner's default, so the
		// grant always carries a concrete executor.
		if agent.Executor == "" {
			agent.Executor = c.defaultExec
		}
		if !c.catalog.Supports(agent.Executor) {
			c.log.WithAgentID(cand.AgentID).Error("agent requires an executor this runner does not carry",
				zap.String("executor", agent.Executor))
			continue
		}

		act, err := c.granter.TryAssign(ctx, cand, c.runnerID, c.budget)
		if err != nil {
			if cerrors.IsTransient(err) {
				// Lease store trouble affects every candidate equally.
				return nil, err
			}
			c.log.WithAgentID(cand.AgentID).WithError(err).Error("assignment failed")
			continue
		}
		if act == nil {
			// Another runner holds the lease. Next candidate.
			continue
		}

		c.log.WithActivationID(act.ID).WithAgentID(cand.AgentID).Info("activation granted",
			zap.String("reason", cand.Reason))
		return &Grant{Activation: act, Agent: agent}, nil
	}

	return nil, nil
}
