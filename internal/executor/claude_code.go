package executor

import (
	"context"
	"regexp"
	"strings"

	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

var _ Backend = (*ClaudeCode)(nil)

// ClaudeCode drives the Anthropic Claude Code CLI in headless print
// mode with stream-json output.
type ClaudeCode struct{}

func NewClaudeCode() *ClaudeCode { return &ClaudeCode{} }

func (c *ClaudeCode) Name() string { return "claude-code" }

func (c *ClaudeCode) IsAvailable(ctx context.Context) bool {
	return cliOnPath("npx")
}

func (c *ClaudeCode) BuildCommand(agent v1.AgentConfig, prompt, workspace string) []string {
	args := []string{
		"npx", "-y", "@anthropic-ai/claude-code",
		"-p", "--output-format=stream-json", "--verbose",
		"--dangerously-skip-permissions",
	}
	if agent.Brain.Model != "" {
		args = append(args, "--model", agent.Brain.Model)
	}
	if workspace != "" {
		args = append(args, "--add-dir", workspace)
	}
	return append(args, prompt)
}

func (c *ClaudeCode) BuildEnv(agent v1.AgentConfig, credentials map[string]string) []string {
	env := []string{}
	if key, ok := credentials["anthropic_api_key"]; ok {
		env = append(env, "ANTHROPIC_API_KEY="+key)
	}
	return env
}

var (
	claudeInputRe  = regexp.MustCompile(`input[_ ]tokens["\s:]+(\d+)`)
	claudeOutputRe = regexp.MustCompile(`output[_ ]tokens["\s:]+(\d+)`)
	claudeFilesRe  = regexp.MustCompile(`(\d+) files? (?:modified|changed)`)
)

func (c *ClaudeCode) ParseMetrics(rawOutput string) (Metrics, error) {
	var m Metrics
	// The final stream-json event is a result object carrying usage.
	found := scanJSONObjects(rawOutput, func(obj map[string]interface{}) bool {
		if obj["type"] != "result" {
			return false
		}
		if v, ok := intAt(obj, "usage", "input_tokens"); ok {
			m.TokensInput = v
		}
		if v, ok := intAt(obj, "usage", "output_tokens"); ok {
			m.TokensOutput = v
		}
		if v, ok := intAt(obj, "usage", "files_modified"); ok {
			m.FilesModified = int(v)
		}
		return true
	})
	if found {
		return m, nil
	}
	return fallbackMetrics(rawOutput, claudeInputRe, claudeOutputRe, claudeFilesRe)
}

func (c *ClaudeCode) TaskComplete(rawOutput string) bool {
	done := scanJSONObjects(rawOutput, func(obj map[string]interface{}) bool {
		return obj["type"] == "result" && obj["subtype"] == "success"
	})
	return done || strings.Contains(rawOutput, successMarker)
}
