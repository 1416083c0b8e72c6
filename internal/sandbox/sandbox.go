// Package sandbox provides the isolated execution environments the
// agent loop runs executor commands in. The docker provider gives a
// resource-limited container per activation; the direct provider runs
// on the host for development and for fleets that opt out of
// isolation.
package sandbox

import (
	"context"

	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// RunResult is the raw outcome of one command run inside a sandbox.
type RunResult struct {
	ExitCode int
	Output   string
}

// Handle is one acquired environment, scoped to a single activation.
// Release must be called on every exit path; it is safe to call after
// a failed or cancelled Run.
type Handle interface {
	ID() string
	Run(ctx context.Context, command []string, env []string) (*RunResult, error)
	Release(ctx context.Context) error
}

// Provider acquires handles.
type Provider interface {
	Acquire(ctx context.Context, spec v1.SandboxSpec, activationID string) (Handle, error)
	Ping(ctx context.Context) error
}
