package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"

	"github.com/conneradamsmaine/playgroundd/internal/config"
)

const labelPrefix = "playground."

// Options bound every engine operation issued by the driver.
type Options struct {
	CommandTimeout time.Duration
	MaxOutputBytes int
	Defaults       config.Defaults
}

// DockerDriver drives the local Docker engine over its API socket.
type DockerDriver struct {
	docker *client.Client
	opts   Options
	logger *slog.Logger
}

// NewDocker connects to the engine. host overrides the endpoint taken
// from the environment when non-empty.
func NewDocker(host string, opts Options, logger *slog.Logger) (*DockerDriver, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		clientOpts = append(clientOpts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerDriver{docker: cli, opts: opts, logger: logger}, nil
}

func (d *DockerDriver) Close() error {
	return d.docker.Close()
}

func (d *DockerDriver) Ping(ctx context.Context) error {
	_, err := d.docker.Ping(ctx)
	return err
}

// Boot creates and starts the session container: no network, dropped
// capabilities, resource caps from the daemon defaults. The start
// command keeps the container alive for later execs.
func (d *DockerDriver) Boot(ctx context.Context, opts BootOpts) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.CommandTimeout)
	defer cancel()

	startCommand := opts.StartCommand
	if startCommand == "" {
		startCommand = DefaultStartCommand
	}

	pidsLimit := int64(d.opts.Defaults.PidsLimit)
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		AutoRemove:  false,
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Resources: container.Resources{
			NanoCPUs:  int64(d.opts.Defaults.CPULimit * 1e9),
			Memory:    int64(d.opts.Defaults.MemLimitMB) * units.MiB,
			PidsLimit: &pidsLimit,
		},
	}

	containerCfg := &container.Config{
		Image: opts.Image,
		Cmd:   []string{"sh", "-lc", startCommand},
		Labels: map[string]string{
			labelPrefix + "session_id": opts.SessionID,
			labelPrefix + "managed":    "true",
		},
	}

	resp, err := d.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, containerName(opts.SessionID))
	if err != nil {
		return "", &BootError{Detail: fmt.Sprintf("container create: %v", err)}
	}

	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", &BootError{Detail: fmt.Sprintf("container start: %v", err)}
	}

	return resp.ID, nil
}

// Exec runs a command inside the container via `sh -lc`. Timeouts come
// back as a synthetic exit 124 with timeout-flavored stderr; captured
// output is clamped to the configured bound with a truncation marker.
func (d *DockerDriver) Exec(ctx context.Context, containerID, command string) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.CommandTimeout)
	defer cancel()

	execResp, err := d.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"sh", "-lc", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if isTimeout(ctx, err) {
			return d.timeoutResult(), nil
		}
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attachResp, err := d.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		if isTimeout(ctx, err) {
			return d.timeoutResult(), nil
		}
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attachResp.Close()

	// Demultiplex Docker's stdout/stderr stream (8-byte headers); stop
	// capturing past the output bound so a chatty command cannot balloon
	// memory.
	stdout := newBoundedBuffer(d.opts.MaxOutputBytes + 4096)
	stderr := newBoundedBuffer(d.opts.MaxOutputBytes + 4096)
	_, copyErr := stdcopy.StdCopy(stdout, stderr, attachResp.Reader)
	if copyErr != nil && isTimeout(ctx, copyErr) {
		return d.timeoutResult(), nil
	}

	inspect, err := d.docker.ContainerExecInspect(context.WithoutCancel(ctx), execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   clampOutput(stdout.String(), d.opts.MaxOutputBytes),
		Stderr:   clampOutput(stderr.String(), d.opts.MaxOutputBytes),
	}, nil
}

// Remove force-removes the container. Failures are swallowed: the
// container may already be gone, and removal runs on every termination
// path where it must never block cleanup.
func (d *DockerDriver) Remove(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.CommandTimeout)
	defer cancel()

	err := d.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		d.logger.Warn("container remove failed", "container_id", containerID, "error", err)
	}
}

// ListManaged returns every container carrying the playground ownership
// label, running or not.
func (d *DockerDriver) ListManaged(ctx context.Context) ([]ContainerInfo, error) {
	f := filters.NewArgs()
	f.Add("label", labelPrefix+"managed=true")

	containers, err := d.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	var result []ContainerInfo
	for _, ctr := range containers {
		sessionID := ctr.Labels[labelPrefix+"session_id"]
		if sessionID == "" {
			continue
		}
		result = append(result, ContainerInfo{
			ContainerID: ctr.ID,
			SessionID:   sessionID,
		})
	}
	return result, nil
}

func (d *DockerDriver) timeoutResult() *ExecResult {
	return &ExecResult{
		ExitCode: 124,
		Stderr:   fmt.Sprintf("command timed out after %s", d.opts.CommandTimeout),
	}
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

// boundedBuffer discards writes past its cap instead of growing.
type boundedBuffer struct {
	buf bytes.Buffer
	max int
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	// Report full consumption so the stream keeps draining.
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
