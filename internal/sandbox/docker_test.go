package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetd/fleetd/internal/common/logger"
)

func TestNewDockerProviderHonorsConfiguredHost(t *testing.T) {
	p, err := NewDockerProvider("tcp://docker.internal:2375", logger.Default())
	require.NoError(t, err)
	assert.Equal(t, "tcp://docker.internal:2375", p.cli.DaemonHost())
}

func TestNewDockerProviderRejectsMalformedHost(t *testing.T) {
	_, err := NewDockerProvider("not-a-docker-host", logger.Default())
	require.Error(t, err)
}
