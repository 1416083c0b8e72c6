// Package contextbuilder assembles the prompt and workspace for a
// granted activation.
package contextbuilder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// ExecutionContext is what the agent loop feeds the executor.
type ExecutionContext struct {
	Prompt    string
	Workspace string
}

// Builder derives per-agent workspaces under a fixed base directory so
// an agent's working state survives across activations.
type Builder struct {
	baseDir string
}

func New(baseDir string) *Builder {
	return &Builder{baseDir: baseDir}
}

// Build returns the prompt and workspace for one activation. The
// workspace directory is created on first activation of the agent.
func (b *Builder) Build(agent v1.AgentConfig, act *v1.Activation) (*ExecutionContext, error) {
	workspace := filepath.Join(b.baseDir, agent.ID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, cerrors.ExecutorFailure(
			fmt.Sprintf("failed to create workspace for agent %s", agent.ID), err)
	}

	return &ExecutionContext{
		Prompt:    buildPrompt(agent, act),
		Workspace: workspace,
	}, nil
}

func buildPrompt(agent v1.AgentConfig, act *v1.Activation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, an autonomous coding agent.\n\n", agent.Name)

	switch agent.Mode {
	case v1.ActivationModeNotification:
		sb.WriteString("Process every pending message in your inbox before doing anything else.\n")
	case v1.ActivationModeExploration:
		sb.WriteString("Continue your exploration of the codebase from where you last left off.\n")
	default:
		sb.WriteString("Process any pending inbox messages first, then continue your exploration work.\n")
	}

	fmt.Fprintf(&sb, "\nYou have a budget of %d iterations and %s of wall-clock time for this activation.\n",
		act.Budget.MaxIterations, act.Budget.Timeout)
	sb.WriteString("When the task is fully done, print the single line TASK_COMPLETE and stop.\n")
	return sb.String()
}
