// Package docker drives game servers that run as Docker containers. Commands
// go to the container's attached stdin (the common minecraft-in-docker
// setup: main process reading console from stdin); stop goes through the
// Engine API so the container's restart policy brings the server back.
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

type Config struct {
	Name      string
	Container string // container name or ID
	// StopTimeout is the engine-side grace before the container is killed.
	StopTimeout time.Duration
}

type Container struct {
	cfg Config
	log logx.Logger
	cli *client.Client
}

// New builds the engine client from the environment (DOCKER_HOST and
// friends) and verifies the container is resolvable, so wiring mistakes
// surface at open rather than on the first restart tick.
func New(ctx context.Context, cfg Config, log logx.Logger) (*Container, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := cli.ContainerInspect(ctx, cfg.Container); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("inspect container %q: %w", cfg.Container, err)
	}
	return &Container{cfg: cfg, log: log, cli: cli}, nil
}

func (d *Container) Name() string { return d.cfg.Name }

func (d *Container) Close() error { return d.cli.Close() }

// ExecuteCommand writes the command to the container's stdin. Requires the
// container to run with an open stdin (OpenStdin), which game server images
// that take console input do.
func (d *Container) ExecuteCommand(ctx context.Context, command string) error {
	attach, err := d.cli.ContainerAttach(ctx, d.cfg.Container, container.AttachOptions{
		Stream: true,
		Stdin:  true,
	})
	if err != nil {
		return fmt.Errorf("attach container %q: %w", d.cfg.Container, err)
	}
	defer attach.Close()

	if _, err := attach.Conn.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("write command to container %q: %w", d.cfg.Container, err)
	}
	d.log.Debug("command written to container stdin",
		logx.String("server", d.cfg.Name), logx.String("command", command))
	return nil
}

// Stop asks the engine to stop the container. A restart policy
// (unless-stopped/always) on the container turns this into a restart.
func (d *Container) Stop(ctx context.Context) error {
	var opts container.StopOptions
	if d.cfg.StopTimeout > 0 {
		secs := int(d.cfg.StopTimeout / time.Second)
		opts.Timeout = &secs
	}
	if err := d.cli.ContainerStop(ctx, d.cfg.Container, opts); err != nil {
		return fmt.Errorf("stop container %q: %w", d.cfg.Container, err)
	}
	return nil
}

func (d *Container) Ping(ctx context.Context) error {
	resp, err := d.cli.ContainerInspect(ctx, d.cfg.Container)
	if err != nil {
		return fmt.Errorf("inspect container %q: %w", d.cfg.Container, err)
	}
	if resp.State == nil || !resp.State.Running {
		status := "unknown"
		if resp.State != nil {
			status = resp.State.Status
		}
		return fmt.Errorf("container %q is %s", d.cfg.Container, status)
	}
	return nil
}
