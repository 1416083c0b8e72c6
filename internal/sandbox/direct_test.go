package sandbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetd/fleetd/internal/common/logger"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

func acquireDirect(t *testing.T) Handle {
	t.Helper()
	h, err := NewDirectProvider(logger.Default()).Acquire(context.Background(), v1.SandboxSpec{}, "act-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Release(context.Background()) })
	return h
}

func TestDirectRunCapturesOutput(t *testing.T) {
	h := acquireDirect(t)

	res, err := h.Run(context.Background(), []string{"sh", "-c", "echo working; echo TASK_COMPLETE"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "working")
	assert.Contains(t, res.Output, "TASK_COMPLETE")
}

func TestDirectRunNonZeroExitIsAResult(t *testing.T) {
	h := acquireDirect(t)

	res, err := h.Run(context.Background(), []string{"sh", "-c", "echo broken >&2; exit 3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "broken")
}

func TestDirectRunPassesEnv(t *testing.T) {
	h := acquireDirect(t)

	res, err := h.Run(context.Background(), []string{"sh", "-c", "echo key=$FLEETD_TEST_KEY"}, []string{"FLEETD_TEST_KEY=v1"})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "key=v1")
}

func TestDirectRunCancellation(t *testing.T) {
	h := acquireDirect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := h.Run(ctx, []string{"sleep", "30"}, nil)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDirectReleaseRemovesWorkspace(t *testing.T) {
	p := NewDirectProvider(logger.Default())
	h, err := p.Acquire(context.Background(), v1.SandboxSpec{}, "act-2")
	require.NoError(t, err)

	dir := h.ID()
	_, err = os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, h.Release(context.Background()))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
