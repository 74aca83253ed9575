// Package local builds the service image on the developer machine and
// boots it once against the declared ports and mounts, as a pre-publish
// confidence check. Nothing here touches the cloud.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/publish"
)

// =============================================================================
// Seams
// =============================================================================

type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

type imageBuilder interface {
	Build(ctx context.Context, build publish.BuildInput, tag string) error
}

type healthWaiter interface {
	WaitHealthy(ctx context.Context, endpoint string, timeout, interval time.Duration) (*domain.HealthReport, error)
}

// =============================================================================
// Smoke Runner
// =============================================================================

// Config describes one local smoke run.
type Config struct {
	ContextDir string
	Dockerfile string

	// ImageTag is the throwaway local tag; never pushed.
	ImageTag string

	// ContainerName is the local container name, removed on exit.
	ContainerName string

	HealthPath  string
	StartupWait time.Duration
	PollEvery   time.Duration
}

func (c *Config) defaults() {
	if c.ImageTag == "" {
		c.ImageTag = "bikedeploy-smoke:latest"
	}
	if c.ContainerName == "" {
		c.ContainerName = "bikedeploy-smoke"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.StartupWait == 0 {
		c.StartupWait = 30 * time.Second
	}
	if c.PollEvery == 0 {
		c.PollEvery = 2 * time.Second
	}
}

// Runner builds and boots the image once, checks health, tears down.
type Runner struct {
	docker  containerAPI
	builder imageBuilder
	health  healthWaiter
	logger  *slog.Logger
}

func NewRunner(docker containerAPI, builder imageBuilder, health healthWaiter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		docker:  docker,
		builder: builder,
		health:  health,
		logger:  logger.With("component", "smoke"),
	}
}

// Run builds the image, starts it with the target's declared ports,
// volumes and env, waits for one healthy poll and removes the container.
// The container is removed whether the check passed or not.
func (r *Runner) Run(ctx context.Context, cfg Config, target domain.DeploymentTarget) error {
	cfg.defaults()

	if err := r.builder.Build(ctx, publish.BuildInput{
		ContextDir: cfg.ContextDir,
		Dockerfile: cfg.Dockerfile,
	}, cfg.ImageTag); err != nil {
		return err
	}
	r.logger.Info("image built", "tag", cfg.ImageTag)

	// A leftover container from an interrupted run must not block this one.
	r.remove(ctx, cfg.ContainerName)

	id, err := r.create(ctx, cfg, target)
	if err != nil {
		return fmt.Errorf("create smoke container: %w", err)
	}
	defer r.remove(context.WithoutCancel(ctx), cfg.ContainerName)

	if err := r.docker.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start smoke container: %w", err)
	}
	r.logger.Info("container started", "name", cfg.ContainerName)

	endpoint := fmt.Sprintf("http://127.0.0.1:%d%s", hostPort(target), cfg.HealthPath)
	report, err := r.health.WaitHealthy(ctx, endpoint, cfg.StartupWait, cfg.PollEvery)
	if err != nil {
		return err
	}
	r.logger.Info("smoke check passed", "service", report.Service)
	return nil
}

func (r *Runner) create(ctx context.Context, cfg Config, target domain.DeploymentTarget) (string, error) {
	config := &container.Config{Image: cfg.ImageTag}
	for k, v := range target.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}
	if len(target.Ports) > 0 {
		bindings := nat.PortMap{}
		exposed := nat.PortSet{}
		for _, p := range target.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposed[port] = struct{}{}
			bindings[port] = []nat.PortBinding{{HostPort: fmt.Sprintf("%d", p.HostPort)}}
		}
		config.ExposedPorts = exposed
		hostConfig.PortBindings = bindings
	}
	for _, v := range target.Volumes {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	resp, err := r.docker.ContainerCreate(ctx, config, hostConfig, nil, nil, cfg.ContainerName)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// remove force-removes the named container. Absence is fine.
func (r *Runner) remove(ctx context.Context, name string) {
	err := r.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		r.logger.Warn("failed to remove smoke container", "name", name, "error", err)
	}
}

// hostPort picks the host side of the first port mapping, which is where
// the health endpoint is reachable from the developer machine.
func hostPort(target domain.DeploymentTarget) int {
	if len(target.Ports) > 0 {
		return target.Ports[0].HostPort
	}
	return 80
}
