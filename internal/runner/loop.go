package runner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/contextbuilder"
	"github.com/fleetd/fleetd/internal/coordinator"
	"github.com/fleetd/fleetd/internal/executor"
	"github.com/fleetd/fleetd/internal/sandbox"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// Credentials is the slice of the credentials manager the loop needs.
type Credentials interface {
	Resolve(ctx context.Context) map[string]string
}

// AgentLoop executes one granted activation: it builds the execution
// context, acquires a sandbox, and drives the executor up to the
// iteration budget, accumulating metrics as it goes.
type AgentLoop struct {
	registry *executor.Registry
	sandbox  sandbox.Provider
	builder  *contextbuilder.Builder
	creds    Credentials
	spec     v1.SandboxSpec
	log      *logger.Logger
}

func NewAgentLoop(
	registry *executor.Registry,
	provider sandbox.Provider,
	builder *contextbuilder.Builder,
	creds Credentials,
	spec v1.SandboxSpec,
	log *logger.Logger,
) *AgentLoop {
	return &AgentLoop{
		registry: registry,
		sandbox:  provider,
		builder:  builder,
		creds:    creds,
		spec:     spec,
		log:      log.WithFields(zap.String("component", "agent-loop")),
	}
}

// Execute runs the loop for one grant. The returned metrics are always
// non-nil and their FinalStatus reflects how the loop ended; the error
// carries the terminal failure class when the status is not completed.
// ctx must already carry the activation timeout; the caller cancels it
// on lease renewal failure.
func (l *AgentLoop) Execute(ctx context.Context, grant *coordinator.Grant) (*v1.ActivationMetrics, error) {
	act := grant.Activation
	log := l.log.WithActivationID(act.ID).WithAgentID(act.AgentID)
	start := time.Now()

	metrics := &v1.ActivationMetrics{FinalStatus: v1.ActivationStatusFailed}
	finish := func(status v1.ActivationStatus, err error) (*v1.ActivationMetrics, error) {
		metrics.FinalStatus = status
		metrics.Duration = time.Since(start)
		return metrics, err
	}

	backend, err := l.registry.Get(grant.Agent.Executor)
	if err != nil {
		return finish(v1.ActivationStatusFailed, err)
	}

	ec, err := l.builder.Build(grant.Agent, act)
	if err != nil {
		return finish(v1.ActivationStatusFailed, err)
	}

	command := backend.BuildCommand(grant.Agent, ec.Prompt, ec.Workspace)
	env := backend.BuildEnv(grant.Agent, l.creds.Resolve(ctx))

	handle, err := l.sandbox.Acquire(ctx, l.spec, act.ID)
	if err != nil {
		return finish(v1.ActivationStatusFailed, err)
	}
	defer func() {
		// Release on every exit path, including timeout and panic
		// unwinding. The detached context lets teardown proceed after
		// the activation deadline.
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("sandbox release failed", zap.Error(err))
		}
	}()

	act.Status = v1.ActivationStatusRunning

	for i := 1; i <= act.Budget.MaxIterations; i++ {
		log.Info("iteration starting",
			zap.Int("iteration", i),
			zap.Int("max_iterations", act.Budget.MaxIterations))

		iterStart := time.Now()
		res, err := handle.Run(ctx, command, env)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("activation hit wall-clock ceiling", zap.Int("iteration", i))
				return finish(v1.ActivationStatusTimedOut, cerrors.ExecutionTimeout(act.ID))
			}
			if errors.Is(err, context.Canceled) {
				// Cancellation from outside the loop, renewal failure
				// included. The caller knows why; the status is failed
				// either way.
				return finish(v1.ActivationStatusFailed, err)
			}
			log.WithError(err).Error("executor invocation failed", zap.Int("iteration", i))
			return finish(v1.ActivationStatusFailed,
				cerrors.ExecutorFailure("executor invocation failed", err))
		}

		result := l.buildResult(backend, res, time.Since(iterStart), log)
		metrics.Iterations = i
		accumulate(metrics, result)

		if result.ExitStatus != 0 {
			log.Error("executor exited abnormally",
				zap.Int("iteration", i), zap.Int("exit_code", result.ExitStatus))
			return finish(v1.ActivationStatusFailed,
				cerrors.ExecutorFailure("executor exited abnormally", nil))
		}

		if backend.TaskComplete(result.RawOutput) {
			log.Info("task complete", zap.Int("iterations", i))
			return finish(v1.ActivationStatusCompleted, nil)
		}
	}

	// Iteration budget exhausted without a success marker.
	log.Warn("iteration budget exhausted", zap.Int("iterations", metrics.Iterations))
	return finish(v1.ActivationStatusFailed,
		cerrors.ExecutorFailure("iteration budget exhausted without completion", nil))
}

// buildResult assembles the per-invocation ExecutorResult from the raw
// sandbox run. Parse failures degrade to zero token counts and never
// fail the loop.
func (l *AgentLoop) buildResult(backend executor.Backend, res *sandbox.RunResult, elapsed time.Duration, log *logger.Logger) *v1.ExecutorResult {
	result := &v1.ExecutorResult{
		ExitStatus: res.ExitCode,
		RawOutput:  res.Output,
		Duration:   elapsed,
	}
	parsed, err := backend.ParseMetrics(res.Output)
	if err != nil {
		log.WithError(err).Warn("metrics parse degraded to zeroes")
		return result
	}
	result.TokensInput = int(parsed.TokensInput)
	result.TokensOutput = int(parsed.TokensOutput)
	result.FilesModified = parsed.FilesModified
	return result
}

// accumulate folds one invocation's result into the activation totals.
func accumulate(metrics *v1.ActivationMetrics, result *v1.ExecutorResult) {
	metrics.TokensInput += int64(result.TokensInput)
	metrics.TokensOutput += int64(result.TokensOutput)
	metrics.FilesModified += result.FilesModified
}
