package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

func testAgent(backend string) v1.AgentConfig {
	return v1.AgentConfig{
		ID:   "a1",
		Name: "refactor-bot",
		Brain: v1.Brain{
			Model:    "test-model",
			Provider: "test",
		},
		Mode:     v1.ActivationModeHybrid,
		Executor: backend,
	}
}

func TestRegistryResolvesBuiltins(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{"claude-code", "codex", "copilot", "gemini"}, r.Names())
	for _, name := range r.Names() {
		b, err := r.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, b.Name())
		assert.True(t, r.Supports(name))
	}
}

func TestRegistryUnknownBackendIsConfigurationError(t *testing.T) {
	r := NewRegistry()

	b, err := r.Get("cursor")
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, cerrors.IsConfiguration(err))
	assert.False(t, r.Supports("cursor"))
}

func TestBuildCommandIsDeterministic(t *testing.T) {
	r := NewRegistry()
	agent := testAgent("claude-code")

	for _, name := range r.Names() {
		b, err := r.Get(name)
		require.NoError(t, err)

		first := b.BuildCommand(agent, "fix the tests", "/work/a1")
		second := b.BuildCommand(agent, "fix the tests", "/work/a1")
		assert.Equal(t, first, second, "backend %s", name)
		assert.Contains(t, first, "test-model", "backend %s propagates the model", name)
	}
}

func TestBuildEnvOnlyIncludesGrantedCredentials(t *testing.T) {
	agent := testAgent("claude-code")

	env := NewClaudeCode().BuildEnv(agent, map[string]string{"anthropic_api_key": "sk-test"})
	assert.Equal(t, []string{"ANTHROPIC_API_KEY=sk-test"}, env)

	assert.Empty(t, NewClaudeCode().BuildEnv(agent, nil))
	assert.Empty(t, NewCodex().BuildEnv(agent, map[string]string{"anthropic_api_key": "sk-test"}))
}

func TestClaudeCodeParseMetricsStreamJSON(t *testing.T) {
	raw := `{"type":"assistant","message":"working"}
{"type":"result","subtype":"success","usage":{"input_tokens":1200,"output_tokens":430}}`

	m, err := NewClaudeCode().ParseMetrics(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), m.TokensInput)
	assert.Equal(t, int64(430), m.TokensOutput)
}

func TestParseMetricsRegexFallback(t *testing.T) {
	raw := "run finished\ninput tokens: 900\noutput tokens: 120\n3 files modified\n"

	m, err := NewCodex().ParseMetrics(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(900), m.TokensInput)
	assert.Equal(t, int64(120), m.TokensOutput)
	assert.Equal(t, 3, m.FilesModified)
}

func TestParseMetricsGarbageDegradesToZero(t *testing.T) {
	for _, name := range NewRegistry().Names() {
		b, err := NewRegistry().Get(name)
		require.NoError(t, err)

		m, err := b.ParseMetrics("�binary noise� no usage anywhere")
		require.Error(t, err, "backend %s", name)
		assert.True(t, cerrors.IsMetricsParse(err), "backend %s", name)
		assert.Equal(t, Metrics{}, m, "backend %s", name)
	}
}

func TestClaudeCodeTaskComplete(t *testing.T) {
	b := NewClaudeCode()

	assert.True(t, b.TaskComplete(`{"type":"result","subtype":"success","usage":{}}`))
	assert.False(t, b.TaskComplete(`{"type":"result","subtype":"error_max_turns"}`))
	assert.True(t, b.TaskComplete("all done\nTASK_COMPLETE\n"))
	assert.False(t, b.TaskComplete("still going"))
}

func TestMarkerTaskComplete(t *testing.T) {
	for _, b := range []Backend{NewCodex(), NewGemini(), NewCopilot()} {
		assert.True(t, b.TaskComplete("done, TASK_COMPLETE"), b.Name())
		assert.False(t, b.TaskComplete("partial progress"), b.Name())
	}
}

func TestGeminiParseMetricsStats(t *testing.T) {
	raw := `{"response":"ok","stats":{"promptTokenCount":640,"candidatesTokenCount":88}}`

	m, err := NewGemini().ParseMetrics(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(640), m.TokensInput)
	assert.Equal(t, int64(88), m.TokensOutput)
}
