package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRuntime runs attempts in disposable containers using the
// Docker SDK. Containers drop all capabilities, forbid privilege
// escalation, mount a read-only rootfs with the work area as the only
// writable path, and lose networking entirely when the policy has no
// allowlist.
type DockerRuntime struct {
	client *client.Client
	image  string
}

// NewDockerRuntime creates a Docker-based runtime. The client is
// initialized from standard environment variables (DOCKER_HOST, etc.).
func NewDockerRuntime(image string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{client: cli, image: image}, nil
}

// Ping probes daemon availability for capability detection at startup.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// Start implements Runtime.Start using a hardened container.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if _, err := d.client.ImageInspect(ctx, d.image); err != nil {
		reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", d.image, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	cfg := &container.Config{
		Image:      d.image,
		Cmd:        []string{"/bin/sh", "-c", opts.Command},
		WorkingDir: "/work",
	}

	hostCfg := &container.HostConfig{
		Binds:          []string{opts.WorkDir + ":/work"},
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		AutoRemove:     false,
	}
	if !opts.NetworkEnabled {
		hostCfg.NetworkMode = "none"
	}
	if opts.RAMLimitMB > 0 {
		hostCfg.Resources.Memory = int64(opts.RAMLimitMB) << 20
	}
	if opts.CPULimitMillis > 0 {
		hostCfg.Resources.NanoCPUs = int64(opts.CPULimitMillis) * 1_000_000
	}
	if opts.PIDLimit > 0 {
		pids := int64(opts.PIDLimit)
		hostCfg.Resources.PidsLimit = &pids
	}

	name := "runbox-" + sanitizeName(opts.AttemptID)
	created, err := d.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		d.client.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	h := &dockerHandle{client: d.client, containerID: created.ID}
	go h.copyLogs(ctx, opts.Stdout, opts.Stderr)
	return h, nil
}

// sanitizeName maps an attempt id to a valid container/pod name.
func sanitizeName(id string) string {
	return strings.ReplaceAll(strings.ToLower(id), "_", "-")
}

type dockerHandle struct {
	client      *client.Client
	containerID string
}

// copyLogs demultiplexes the container's combined stream into the
// stdout and stderr writers until the container exits.
func (h *dockerHandle) copyLogs(ctx context.Context, stdout, stderr io.Writer) {
	logs, err := h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return
	}
	defer logs.Close()
	stdcopy.StdCopy(stdout, stderr, logs)
}

func (h *dockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1}, err
	case status := <-statusCh:
		if status.Error != nil {
			return ExitResult{ExitCode: int(status.StatusCode)}, fmt.Errorf("%s", status.Error.Message)
		}
		return ExitResult{ExitCode: int(status.StatusCode)}, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1}, ctx.Err()
	}
}

func (h *dockerHandle) Stop(ctx context.Context) error {
	return h.client.ContainerKill(ctx, h.containerID, "SIGTERM")
}

func (h *dockerHandle) Kill(ctx context.Context) error {
	return h.client.ContainerKill(ctx, h.containerID, "SIGKILL")
}

// Close removes the container and whatever it left behind.
func (h *dockerHandle) Close(ctx context.Context) error {
	err := h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", h.containerID, err)
	}
	return nil
}
