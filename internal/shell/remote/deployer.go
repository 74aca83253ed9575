package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

// =============================================================================
// Types
// =============================================================================

// RegistryLogin authenticates the host's container runtime to the registry.
// The password travels over the session's stdin, never in a command line.
type RegistryLogin struct {
	Host     string
	Username string
	Password string
}

// TagRecorder persists the artifact tag running on a target after a
// successful deploy.
type TagRecorder interface {
	RecordRunningTag(ctx context.Context, targetName, tag string) error
}

// =============================================================================
// Deployer
// =============================================================================

// Deployer replaces the running service container on a target host with a
// new artifact. The sequence is deliberately not transactional: a failure
// after teardown leaves the service down until the next successful run,
// which converges through the same idempotent steps.
type Deployer struct {
	exec     Executor
	recorder TagRecorder
	logger   *slog.Logger
}

// NewDeployer creates a deployer over the given executor. recorder may be
// nil when no durable record is wanted.
func NewDeployer(exec Executor, recorder TagRecorder, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		exec:     exec,
		recorder: recorder,
		logger:   logger.With("component", "deployer"),
	}
}

// Deploy runs the container replacement protocol:
// registry login, idempotent teardown, pull by exact tag, start with the
// target's persistent mounts and runtime config, prune old images.
func (d *Deployer) Deploy(ctx context.Context, target domain.DeploymentTarget, artifact domain.ArtifactReference, login RegistryLogin) error {
	if err := target.Validate(); err != nil {
		return err
	}

	logger := d.logger.With("target", target.Name, "host", target.Host, "tag", artifact.Tag)

	if err := d.registryLogin(ctx, login); err != nil {
		return fmt.Errorf("%w: registry login: %v", domain.ErrDeployFailed, err)
	}

	if err := d.teardown(ctx, target.Name); err != nil {
		return fmt.Errorf("%w: teardown %s: %v", domain.ErrDeployFailed, target.Name, err)
	}

	// Pull by exact tag, never "latest": the artifact deployed must be the
	// artifact built.
	if err := d.run(ctx, fmt.Sprintf("docker pull %s", shellQuote(artifact.Image()))); err != nil {
		return fmt.Errorf("%w: pull %s: %v", domain.ErrDeployFailed, artifact.Image(), err)
	}

	startCmd, loggedCmd := startCommand(target, artifact)
	logger.Info("starting container", "command", loggedCmd)
	if err := d.run(ctx, startCmd); err != nil {
		return fmt.Errorf("%w: start %s: %v", domain.ErrDeployFailed, target.Name, err)
	}

	// Bound disk usage on the host. Best effort: the new container is
	// already running.
	if err := d.run(ctx, "docker image prune -f"); err != nil {
		logger.Warn("image prune failed", "error", err)
	}

	if d.recorder != nil {
		if err := d.recorder.RecordRunningTag(ctx, target.Name, artifact.Tag); err != nil {
			logger.Warn("failed to record running tag", "error", err)
		}
	}

	logger.Info("deploy complete")
	return nil
}

// =============================================================================
// Protocol Steps
// =============================================================================

func (d *Deployer) registryLogin(ctx context.Context, login RegistryLogin) error {
	cmd := fmt.Sprintf("docker login --username %s --password-stdin %s",
		shellQuote(login.Username), shellQuote(login.Host))
	return d.runWithStdin(ctx, cmd, login.Password)
}

// teardown stops and removes the previous instance by its logical name.
// "not found" is success: there is nothing to tear down.
func (d *Deployer) teardown(ctx context.Context, name string) error {
	result, err := d.exec.Run(ctx, fmt.Sprintf("docker rm -f %s", shellQuote(name)), nil)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 && !strings.Contains(result.Stderr, "No such container") {
		return fmt.Errorf("exit %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (d *Deployer) run(ctx context.Context, cmd string) error {
	result, err := d.exec.Run(ctx, cmd, nil)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("exit %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (d *Deployer) runWithStdin(ctx context.Context, cmd, stdin string) error {
	result, err := d.exec.Run(ctx, cmd, strings.NewReader(stdin))
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("exit %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// =============================================================================
// Command Construction
// =============================================================================

// startCommand builds the docker run invocation plus a redacted variant
// safe for logs: env values never leave the session.
func startCommand(target domain.DeploymentTarget, artifact domain.ArtifactReference) (cmd, logged string) {
	var args, loggedArgs []string

	add := func(s string) {
		args = append(args, s)
		loggedArgs = append(loggedArgs, s)
	}

	add("docker run -d")
	add("--name " + shellQuote(target.Name))
	add("--restart unless-stopped")

	for _, p := range target.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		add(fmt.Sprintf("-p %d:%d/%s", p.HostPort, p.ContainerPort, proto))
	}

	for _, v := range target.Volumes {
		bind := fmt.Sprintf("%s:%s", v.Source, v.Target)
		if v.ReadOnly {
			bind += ":ro"
		}
		add("-v " + shellQuote(bind))
	}

	// Stable ordering keeps the command reproducible between runs.
	keys := make([]string, 0, len(target.Env))
	for k := range target.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("-e %s", shellQuote(k+"="+target.Env[k])))
		loggedArgs = append(loggedArgs, fmt.Sprintf("-e %s=***", k))
	}

	add(shellQuote(artifact.Image()))

	return strings.Join(args, " "), strings.Join(loggedArgs, " ")
}

// shellQuote single-quotes a value for safe interpolation into a remote
// shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
