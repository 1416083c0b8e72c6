package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"

	"go.uber.org/zap"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// DirectProvider runs executor commands straight on the host. No
// resource limits are enforced; the activation timeout is the only
// bound. Each handle gets a throwaway workspace directory.
type DirectProvider struct {
	log *logger.Logger
}

func NewDirectProvider(log *logger.Logger) *DirectProvider {
	return &DirectProvider{log: log.WithFields(zap.String("component", "sandbox"))}
}

func (p *DirectProvider) Ping(ctx context.Context) error { return nil }

func (p *DirectProvider) Acquire(ctx context.Context, spec v1.SandboxSpec, activationID string) (Handle, error) {
	dir, err := os.MkdirTemp("", "fleetd-act-"+activationID+"-")
	if err != nil {
		return nil, cerrors.ExecutorFailure("failed to create workspace directory", err)
	}
	p.log.WithActivationID(activationID).Debug("direct sandbox acquired", zap.String("workspace", dir))
	return &directHandle{workdir: dir, log: p.log.WithActivationID(activationID)}, nil
}

type directHandle struct {
	workdir string
	log     *logger.Logger
}

func (h *directHandle) ID() string { return h.workdir }

func (h *directHandle) Run(ctx context.Context, command []string, env []string) (*RunResult, error) {
	if len(command) == 0 {
		return nil, cerrors.ExecutorFailure("empty command", nil)
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = h.workdir
	cmd.Env = append(os.Environ(), env...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is a result, not a transport error. The
			// loop decides what it means.
			return &RunResult{ExitCode: exitErr.ExitCode(), Output: output.String()}, nil
		}
		return nil, cerrors.ExecutorFailure("failed to run executor command", err)
	}

	return &RunResult{ExitCode: 0, Output: output.String()}, nil
}

func (h *directHandle) Release(ctx context.Context) error {
	if err := os.RemoveAll(h.workdir); err != nil {
		h.log.Warn("failed to remove workspace", zap.Error(err))
	}
	return nil
}
