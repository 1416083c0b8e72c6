// Package executor defines the Backend interface and the four CLI
// backends that implement it. Each backend knows how to turn an agent
// configuration and a prompt into an argv and environment, and how to
// read completion and usage back out of the tool's raw output.
package executor

import (
	"context"
	"fmt"
	"os/exec"
	"sort"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// Metrics is what a backend can recover from one invocation's output.
type Metrics struct {
	TokensInput   int64
	TokensOutput  int64
	FilesModified int
}

// Backend adapts one coding-assistant CLI to the agent loop.
//
// BuildCommand and BuildEnv must be deterministic in their inputs: the
// loop relies on being able to re-run an iteration and get the same
// invocation.
type Backend interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	BuildCommand(agent v1.AgentConfig, prompt, workspace string) []string
	BuildEnv(agent v1.AgentConfig, credentials map[string]string) []string
	ParseMetrics(rawOutput string) (Metrics, error)
	TaskComplete(rawOutput string) bool
}

// Registry holds the closed set of backends this runner carries.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry returns a registry with all built-in backends.
func NewRegistry() *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	r.register(NewClaudeCode())
	r.register(NewCodex())
	r.register(NewGemini())
	r.register(NewCopilot())
	return r
}

func (r *Registry) register(b Backend) {
	r.backends[b.Name()] = b
}

// Get resolves a backend by name. An unknown name is a configuration
// error, never a retryable one.
func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, cerrors.Configuration(fmt.Sprintf("unknown executor %q", name))
	}
	return b, nil
}

// Supports reports whether name resolves without error.
func (r *Registry) Supports(name string) bool {
	_, ok := r.backends[name]
	return ok
}

// Names returns the registered backend names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// successMarker is the completion sentinel every backend's prompt asks
// the agent to print. Backends that emit a structured completion signal
// check that first and fall back to the marker.
const successMarker = "TASK_COMPLETE"

// cliOnPath is the shared availability probe. All four backends run
// through npx so presence of the node toolchain is the real gate.
func cliOnPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
