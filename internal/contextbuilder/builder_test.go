package contextbuilder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

func testActivation() *v1.Activation {
	return &v1.Activation{
		ID:      "act-1",
		AgentID: "a1",
		Budget:  v1.Budget{MaxIterations: 5, Timeout: 10 * time.Minute},
		Status:  v1.ActivationStatusGranted,
	}
}

func TestBuildCreatesPerAgentWorkspace(t *testing.T) {
	base := t.TempDir()
	b := New(base)

	agent := v1.AgentConfig{ID: "a1", Name: "doc-bot", Mode: v1.ActivationModeHybrid}
	ec, err := b.Build(agent, testActivation())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "a1"), ec.Workspace)
	info, err := os.Stat(ec.Workspace)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Same workspace on the next activation of the same agent.
	ec2, err := b.Build(agent, testActivation())
	require.NoError(t, err)
	assert.Equal(t, ec.Workspace, ec2.Workspace)
}

func TestBuildPromptVariesByMode(t *testing.T) {
	b := New(t.TempDir())
	act := testActivation()

	notif, err := b.Build(v1.AgentConfig{ID: "n", Name: "n", Mode: v1.ActivationModeNotification}, act)
	require.NoError(t, err)
	assert.Contains(t, notif.Prompt, "inbox")
	assert.NotContains(t, notif.Prompt, "exploration")

	expl, err := b.Build(v1.AgentConfig{ID: "e", Name: "e", Mode: v1.ActivationModeExploration}, act)
	require.NoError(t, err)
	assert.Contains(t, expl.Prompt, "exploration")
	assert.NotContains(t, expl.Prompt, "inbox")

	hyb, err := b.Build(v1.AgentConfig{ID: "h", Name: "h", Mode: v1.ActivationModeHybrid}, act)
	require.NoError(t, err)
	assert.Contains(t, hyb.Prompt, "inbox")
	assert.Contains(t, hyb.Prompt, "exploration")
}

func TestBuildPromptStatesBudgetAndMarker(t *testing.T) {
	b := New(t.TempDir())

	ec, err := b.Build(v1.AgentConfig{ID: "a1", Name: "bot", Mode: v1.ActivationModeHybrid}, testActivation())
	require.NoError(t, err)
	assert.Contains(t, ec.Prompt, "5 iterations")
	assert.Contains(t, ec.Prompt, "TASK_COMPLETE")
}
