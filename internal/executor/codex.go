package executor

import (
	"context"
	"regexp"
	"strings"

	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

var _ Backend = (*Codex)(nil)

// Codex drives the OpenAI Codex CLI in non-interactive exec mode.
type Codex struct{}

func NewCodex() *Codex { return &Codex{} }

func (c *Codex) Name() string { return "codex" }

func (c *Codex) IsAvailable(ctx context.Context) bool {
	return cliOnPath("npx")
}

func (c *Codex) BuildCommand(agent v1.AgentConfig, prompt, workspace string) []string {
	args := []string{
		"npx", "-y", "@openai/codex", "exec",
		"--json", "--full-auto", "--skip-git-repo-check",
	}
	if agent.Brain.Model != "" {
		args = append(args, "--model", agent.Brain.Model)
	}
	if workspace != "" {
		args = append(args, "--cd", workspace)
	}
	return append(args, prompt)
}

func (c *Codex) BuildEnv(agent v1.AgentConfig, credentials map[string]string) []string {
	env := []string{}
	if key, ok := credentials["openai_api_key"]; ok {
		env = append(env, "OPENAI_API_KEY="+key)
	}
	return env
}

var (
	codexInputRe  = regexp.MustCompile(`input[_ ]tokens["\s:]+(\d+)`)
	codexOutputRe = regexp.MustCompile(`output[_ ]tokens["\s:]+(\d+)`)
	codexFilesRe  = regexp.MustCompile(`(\d+) files? (?:modified|changed)`)
)

func (c *Codex) ParseMetrics(rawOutput string) (Metrics, error) {
	var m Metrics
	found := scanJSONObjects(rawOutput, func(obj map[string]interface{}) bool {
		in, okIn := intAt(obj, "usage", "input_tokens")
		out, okOut := intAt(obj, "usage", "output_tokens")
		if !okIn && !okOut {
			return false
		}
		m.TokensInput = in
		m.TokensOutput = out
		if v, ok := intAt(obj, "usage", "files_modified"); ok {
			m.FilesModified = int(v)
		}
		return true
	})
	if found {
		return m, nil
	}
	return fallbackMetrics(rawOutput, codexInputRe, codexOutputRe, codexFilesRe)
}

func (c *Codex) TaskComplete(rawOutput string) bool {
	return strings.Contains(rawOutput, successMarker)
}
