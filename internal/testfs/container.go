//go:build e2e

package testfs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Container wraps a Docker container with a simple exec interface.
type Container struct {
	client      *client.Client
	containerID string
}

// Console is the size of the pseudo-terminal attached to an exec.
type Console struct {
	Rows, Cols uint
}

// NewContainer creates and starts a Docker container.
// The caller is responsible for calling Close() when done.
func NewContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig) (*Container, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if err := pullImage(ctx, cli, cfg.Image); err != nil {
		cli.Close()
		return nil, fmt.Errorf("pull image: %w", err)
	}

	resp, err := cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		cli.Close()
		return nil, fmt.Errorf("start container: %w", err)
	}

	return &Container{client: cli, containerID: resp.ID}, nil
}

// Run executes a command inside the container with separate stdout and
// stderr and no terminal.
func (c *Container) Run(ctx context.Context, cmd []string, env []string) (RunResult, error) {
	return c.exec(ctx, cmd, env, nil)
}

// RunTTY executes a command attached to a pseudo-terminal of the given size.
// Stdout and stderr arrive merged in RunResult.Stdout.
func (c *Container) RunTTY(ctx context.Context, cmd []string, env []string, console Console) (RunResult, error) {
	return c.exec(ctx, cmd, env, &console)
}

func (c *Container) exec(ctx context.Context, cmd []string, env []string, console *Console) (RunResult, error) {
	opts := container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	}
	if console != nil {
		opts.Tty = true
		opts.ConsoleSize = &[2]uint{console.Rows, console.Cols}
	}

	execResp, err := c.client.ContainerExecCreate(ctx, c.containerID, opts)
	if err != nil {
		return RunResult{}, fmt.Errorf("exec create: %w", err)
	}

	hijack, err := c.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{
		Tty:         opts.Tty,
		ConsoleSize: opts.ConsoleSize,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer hijack.Close()

	// A TTY stream is raw; otherwise stdout and stderr are multiplexed.
	var outBuf, errBuf bytes.Buffer
	if opts.Tty {
		_, _ = io.Copy(&outBuf, hijack.Reader)
	} else {
		_, _ = stdcopy.StdCopy(&outBuf, &errBuf, hijack.Reader)
	}

	inspectResp, err := c.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return RunResult{}, fmt.Errorf("exec inspect: %w", err)
	}

	return RunResult{
		ExitCode: inspectResp.ExitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}

// Close stops the container and releases resources.
// The container is automatically removed if AutoRemove was set.
func (c *Container) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	defer c.client.Close()
	return c.client.ContainerStop(ctx, c.containerID, container.StopOptions{})
}

// pullImage pulls the Docker image (uses cache if already present).
func pullImage(ctx context.Context, cli *client.Client, imageName string) error {
	reader, err := cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}
