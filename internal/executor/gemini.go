package executor

import (
	"context"
	"regexp"
	"strings"

	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

var _ Backend = (*Gemini)(nil)

// Gemini drives the Google Gemini CLI in one-shot prompt mode.
type Gemini struct{}

func NewGemini() *Gemini { return &Gemini{} }

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) IsAvailable(ctx context.Context) bool {
	return cliOnPath("npx")
}

func (g *Gemini) BuildCommand(agent v1.AgentConfig, prompt, workspace string) []string {
	args := []string{
		"npx", "-y", "@google/gemini-cli",
		"--yolo",
	}
	if agent.Brain.Model != "" {
		args = append(args, "--model", agent.Brain.Model)
	}
	if workspace != "" {
		args = append(args, "--include-directories", workspace)
	}
	return append(args, "-p", prompt)
}

func (g *Gemini) BuildEnv(agent v1.AgentConfig, credentials map[string]string) []string {
	env := []string{}
	if key, ok := credentials["gemini_api_key"]; ok {
		env = append(env, "GEMINI_API_KEY="+key)
	}
	return env
}

var (
	geminiInputRe  = regexp.MustCompile(`(?i)prompt tokens?["\s:]+(\d+)`)
	geminiOutputRe = regexp.MustCompile(`(?i)(?:candidates|output) tokens?["\s:]+(\d+)`)
	geminiFilesRe  = regexp.MustCompile(`(\d+) files? (?:modified|changed)`)
)

func (g *Gemini) ParseMetrics(rawOutput string) (Metrics, error) {
	var m Metrics
	found := scanJSONObjects(rawOutput, func(obj map[string]interface{}) bool {
		in, okIn := intAt(obj, "stats", "promptTokenCount")
		out, okOut := intAt(obj, "stats", "candidatesTokenCount")
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
	return fallbackMetrics(rawOutput, geminiInputRe, geminiOutputRe, geminiFilesRe)
}

func (g *Gemini) TaskComplete(rawOutput string) bool {
	return strings.Contains(rawOutput, successMarker)
}
