package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// removeTimeout bounds container teardown so a wedged daemon cannot
// hold the lease past release.
const removeTimeout = 30 * time.Second

// DockerProvider acquires one long-lived container per activation and
// execs each iteration's command into it, so workspace state persists
// across iterations of the same activation.
type DockerProvider struct {
	cli *client.Client
	log *logger.Logger
}

// NewDockerProvider connects to the docker daemon at host. An empty host
// falls back to the environment (DOCKER_HOST et al).
func NewDockerProvider(host string, log *logger.Logger) (*DockerProvider, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerProvider{
		cli: cli,
		log: log.WithFields(zap.String("component", "sandbox")),
	}, nil
}

func (p *DockerProvider) Ping(ctx context.Context) error {
	if _, err := p.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

func (p *DockerProvider) Close() error {
	return p.cli.Close()
}

// Acquire pulls the image if needed and starts an idle container sized
// to the spec. The container's init process just sleeps; all real work
// goes through exec.
func (p *DockerProvider) Acquire(ctx context.Context, spec v1.SandboxSpec, activationID string) (Handle, error) {
	log := p.log.WithActivationID(activationID)

	if err := p.ensureImage(ctx, spec.Image); err != nil {
		return nil, err
	}

	name := "fleetd-act-" + activationID
	resp, err := p.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Entrypoint: []string{"sleep", "infinity"},
			WorkingDir: "/workspace",
			Labels: map[string]string{
				"fleetd.activation_id": activationID,
			},
		},
		&container.HostConfig{
			Resources: container.Resources{
				Memory:   spec.MemoryMB * 1024 * 1024,
				NanoCPUs: int64(spec.CPUCores * 1e9),
			},
		},
		nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best effort cleanup of the half-made container.
		p.remove(context.WithoutCancel(ctx), resp.ID)
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	log.Info("sandbox acquired",
		zap.String("container_id", resp.ID),
		zap.String("image", spec.Image))

	return &dockerHandle{provider: p, containerID: resp.ID, log: log}, nil
}

func (p *DockerProvider) ensureImage(ctx context.Context, imageName string) error {
	if _, err := p.cli.ImageInspect(ctx, imageName); err == nil {
		return nil
	}
	p.log.Info("pulling sandbox image", zap.String("image", imageName))
	reader, err := p.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error reading image pull output: %w", err)
	}
	return nil
}

func (p *DockerProvider) remove(ctx context.Context, containerID string) {
	removeCtx, cancel := context.WithTimeout(ctx, removeTimeout)
	defer cancel()
	err := p.cli.ContainerRemove(removeCtx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		p.log.Warn("failed to remove sandbox container",
			zap.String("container_id", containerID), zap.Error(err))
	}
}

type dockerHandle struct {
	provider    *DockerProvider
	containerID string
	log         *logger.Logger
}

func (h *dockerHandle) ID() string { return h.containerID }

// Run execs command inside the container and blocks until it exits or
// ctx is cancelled. On cancellation the container is killed so the
// exec'd process cannot outlive the activation.
func (h *dockerHandle) Run(ctx context.Context, command []string, env []string) (*RunResult, error) {
	cli := h.provider.cli

	execResp, err := cli.ContainerExecCreate(ctx, h.containerID, container.ExecOptions{
		Cmd:          command,
		Env:          env,
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, cerrors.ExecutorFailure("failed to create exec in sandbox", err)
	}

	attach, err := cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, cerrors.ExecutorFailure("failed to attach to sandbox exec", err)
	}
	defer attach.Close()

	var output bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		// Both streams land in one buffer; metric parsing and the
		// success marker can appear on either.
		_, err := stdcopy.StdCopy(&output, &output, attach.Reader)
		copyDone <- err
	}()

	select {
	case <-ctx.Done():
		if err := cli.ContainerKill(context.WithoutCancel(ctx), h.containerID, "SIGKILL"); err != nil {
			h.log.Warn("failed to kill sandbox container", zap.Error(err))
		}
		return nil, ctx.Err()
	case err := <-copyDone:
		if err != nil {
			return nil, cerrors.ExecutorFailure("failed reading sandbox output", err)
		}
	}

	inspect, err := cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, cerrors.ExecutorFailure("failed to inspect sandbox exec", err)
	}

	return &RunResult{ExitCode: inspect.ExitCode, Output: output.String()}, nil
}

// Release force-removes the container. Safe to call after a kill; the
// daemon treats removal of a dead container the same way.
func (h *dockerHandle) Release(ctx context.Context) error {
	h.provider.remove(context.WithoutCancel(ctx), h.containerID)
	h.log.Debug("sandbox released", zap.String("container_id", h.containerID))
	return nil
}
