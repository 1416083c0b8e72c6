package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/scheduler"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

type fakePlanner struct {
	pass *scheduler.Pass
	err  error
}

func (f *fakePlanner) Run(ctx context.Context) (*scheduler.Pass, error) {
	return f.pass, f.err
}

// fakeGranter grants only the agent IDs listed in wins; everything else
// is treated as held by another runner.
type fakeGranter struct {
	wins     map[string]bool
	err      error
	attempts []string
}

func (f *fakeGranter) TryAssign(ctx context.Context, cand v1.ActivationCandidate, runnerID string, budget v1.Budget) (*v1.Activation, error) {
	f.attempts = append(f.attempts, cand.AgentID)
	if f.err != nil {
		return nil, f.err
	}
	if !f.wins[cand.AgentID] {
		return nil, nil
	}
	return &v1.Activation{
		ID:        "act-" + cand.AgentID,
		AgentID:   cand.AgentID,
		RunnerID:  runnerID,
		StartedAt: time.Now().UTC(),
		Budget:    budget,
		Status:    v1.ActivationStatusGranted,
	}, nil
}

type fakeCatalog struct {
	known map[string]bool
}

func (f *fakeCatalog) Supports(name string) bool { return f.known[name] }

func testPass(agentIDs ...string) *scheduler.Pass {
	pass := &scheduler.Pass{Agents: map[string]v1.AgentConfig{}}
	for _, id := range agentIDs {
		pass.Candidates = append(pass.Candidates, v1.ActivationCandidate{
			AgentID: id,
			Mode:    v1.ActivationModeHybrid,
			Reason:  "discovery",
		})
		pass.Agents[id] = v1.AgentConfig{ID: id, Name: id, Mode: v1.ActivationModeHybrid, Executor: "claude-code"}
	}
	return pass
}

func testBudget() v1.Budget {
	return v1.Budget{MaxIterations: 3, Timeout: time.Minute}
}

func newCoordinator(planner Planner, granter Granter, catalog Catalog) *Coordinator {
	return New(planner, granter, catalog, "runner-1", testBudget(), "claude-code", logger.Default())
}

func TestRequestActivationGrantsFirstWinner(t *testing.T) {
	granter := &fakeGranter{wins: map[string]bool{"a2": true, "a3": true}}
	c := newCoordinator(
		&fakePlanner{pass: testPass("a1", "a2", "a3")},
		granter,
		&fakeCatalog{known: map[string]bool{"claude-code": true}},
	)

	grant, err := c.RequestActivation(context.Background())
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, "a2", grant.Activation.AgentID)
	assert.Equal(t, "a2", grant.Agent.ID)
	// a3 was never tried: the first won lease ends the walk.
	assert.Equal(t, []string{"a1", "a2"}, granter.attempts)
}

func TestRequestActivationNoWork(t *testing.T) {
	c := newCoordinator(
		&fakePlanner{pass: &scheduler.Pass{}},
		&fakeGranter{},
		&fakeCatalog{},
	)

	grant, err := c.RequestActivation(context.Background())
	require.NoError(t, err)
	assert.Nil(t, grant)
}

func TestRequestActivationAllLeasesHeld(t *testing.T) {
	granter := &fakeGranter{wins: map[string]bool{}}
	c := newCoordinator(
		&fakePlanner{pass: testPass("a1", "a2")},
		granter,
		&fakeCatalog{known: map[string]bool{"claude-code": true}},
	)

	grant, err := c.RequestActivation(context.Background())
	require.NoError(t, err)
	assert.Nil(t, grant)
	assert.Equal(t, []string{"a1", "a2"}, granter.attempts)
}

func TestRequestActivationSkipsUnknownExecutor(t *testing.T) {
	pass := testPass("a1", "a2")
	bad := pass.Agents["a1"]
	bad.Executor = "no-such-backend"
	pass.Agents["a1"] = bad

	granter := &fakeGranter{wins: map[string]bool{"a1": true, "a2": true}}
	c := newCoordinator(
		&fakePlanner{pass: pass},
		granter,
		&fakeCatalog{known: map[string]bool{"claude-code": true}},
	)

	grant, err := c.RequestActivation(context.Background())
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, "a2", grant.Activation.AgentID)
	// The misconfigured agent never reached the lease store.
	assert.Equal(t, []string{"a2"}, granter.attempts)
}

func TestRequestActivationDefaultsExecutor(t *testing.T) {
	pass := testPass("a1")
	agent := pass.Agents["a1"]
	agent.Executor = ""
	pass.Agents["a1"] = agent

	granter := &fakeGranter{wins: map[string]bool{"a1": true}}
	c := newCoordinator(
		&fakePlanner{pass: pass},
		granter,
		&fakeCatalog{known: map[string]bool{"claude-code": true}},
	)

	grant, err := c.RequestActivation(context.Background())
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, "claude-code", grant.Agent.Executor)
}

func TestRequestActivationPlannerErrorPropagates(t *testing.T) {
	c := newCoordinator(
		&fakePlanner{err: cerrors.Transient("hub unreachable", nil)},
		&fakeGranter{},
		&fakeCatalog{},
	)

	grant, err := c.RequestActivation(context.Background())
	require.Error(t, err)
	assert.Nil(t, grant)
	assert.True(t, cerrors.IsTransient(err))
}

func TestRequestActivationLeaseStoreDownStopsPass(t *testing.T) {
	granter := &fakeGranter{err: cerrors.Transient("redis down", nil)}
	c := newCoordinator(
		&fakePlanner{pass: testPass("a1", "a2")},
		granter,
		&fakeCatalog{known: map[string]bool{"claude-code": true}},
	)

	grant, err := c.RequestActivation(context.Background())
	require.Error(t, err)
	assert.Nil(t, grant)
	assert.True(t, cerrors.IsTransient(err))
	// Store trouble ends the pass instead of hammering every candidate.
	assert.Equal(t, []string{"a1"}, granter.attempts)
}
