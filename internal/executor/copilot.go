package executor

import (
	"context"
	"regexp"
	"strings"

	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

var _ Backend = (*Copilot)(nil)

// Copilot drives the GitHub Copilot CLI in programmatic prompt mode.
type Copilot struct{}

func NewCopilot() *Copilot { return &Copilot{} }

func (c *Copilot) Name() string { return "copilot" }

func (c *Copilot) IsAvailable(ctx context.Context) bool {
	return cliOnPath("npx")
}

func (c *Copilot) BuildCommand(agent v1.AgentConfig, prompt, workspace string) []string {
	args := []string{
		"npx", "-y", "@github/copilot",
		"--allow-all-tools", "--no-color",
	}
	if agent.Brain.Model != "" {
		args = append(args, "--model", agent.Brain.Model)
	}
	if workspace != "" {
		args = append(args, "--add-dir", workspace)
	}
	return append(args, "-p", prompt)
}

func (c *Copilot) BuildEnv(agent v1.AgentConfig, credentials map[string]string) []string {
	env := []string{}
	if token, ok := credentials["github_token"]; ok {
		env = append(env, "GITHUB_TOKEN="+token)
	}
	return env
}

var (
	copilotInputRe  = regexp.MustCompile(`(?i)input tokens?["\s:]+(\d+)`)
	copilotOutputRe = regexp.MustCompile(`(?i)output tokens?["\s:]+(\d+)`)
	copilotFilesRe  = regexp.MustCompile(`(\d+) files? (?:modified|changed)`)
)

func (c *Copilot) ParseMetrics(rawOutput string) (Metrics, error) {
	var m Metrics
	found := scanJSONObjects(rawOutput, func(obj map[string]interface{}) bool {
		in, okIn := intAt(obj, "usage", "input_tokens")
		out, okOut := intAt(obj, "usage", "output_tokens")
		if !okIn && !okOut {
			return false
		}
		m.TokensInput = in
		m.TokensOutput = out
		return true
	})
	if found {
		return m, nil
	}
	return fallbackMetrics(rawOutput, copilotInputRe, copilotOutputRe, copilotFilesRe)
}

func (c *Copilot) TaskComplete(rawOutput string) bool {
	return strings.Contains(rawOutput, successMarker)
}
