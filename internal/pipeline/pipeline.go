// Package pipeline sequences the deployment stages: test, publish,
// deploy, verify. Each stage is a typed function of the previous
// stage's output; a failing stage aborts the remainder.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/publish"
	"github.com/pedalworks/bikedeploy/internal/shell/remote"
	"github.com/pedalworks/bikedeploy/internal/shell/store"
)

// =============================================================================
// Stage Interfaces
// =============================================================================

// Tester gates the pipeline on the service's own test suite.
type Tester interface {
	Test(ctx context.Context) error
}

// Publisher builds and pushes the service image.
type Publisher interface {
	Publish(ctx context.Context, build publish.BuildInput, auth publish.RegistryAuth) (*domain.ArtifactReference, error)
}

// Deployer replaces the running container on the target host.
type Deployer interface {
	Deploy(ctx context.Context, target domain.DeploymentTarget, artifact domain.ArtifactReference, login remote.RegistryLogin) error
}

// Verifier waits for the deployed service to report healthy.
type Verifier interface {
	WaitHealthy(ctx context.Context, endpoint string, timeout, interval time.Duration) (*domain.HealthReport, error)
}

// CredentialSource produces short-lived registry credentials at deploy
// time. Never persisted.
type CredentialSource interface {
	RegistryCredentials(ctx context.Context) (host, username, password string, err error)
}

// =============================================================================
// Command Tester
// =============================================================================

// CommandTester runs the service's test command in its source checkout.
type CommandTester struct {
	Dir     string
	Command []string
}

func (t CommandTester) Test(ctx context.Context) error {
	if len(t.Command) == 0 {
		return fmt.Errorf("no test command configured")
	}
	cmd := exec.CommandContext(ctx, t.Command[0], t.Command[1:]...)
	cmd.Dir = t.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("test command failed: %w\n%s", err, out)
	}
	return nil
}

// =============================================================================
// Pipeline
// =============================================================================

// Config wires the pipeline stages to one service.
type Config struct {
	ContextDir string
	Dockerfile string
	Registry   string

	// TargetName selects the deployment target record in the store.
	TargetName string

	// Env is injected into the target at deploy time. Values are runtime
	// secrets; the store never holds them.
	Env map[string]string

	// HealthPath is appended to the target host for verification.
	HealthPath    string
	HealthTimeout time.Duration
	PollInterval  time.Duration
}

type Pipeline struct {
	cfg      Config
	tester   Tester
	pub      Publisher
	deployer Deployer
	verifier Verifier
	creds    CredentialSource
	store    store.Store
	logger   *slog.Logger
}

func New(cfg Config, tester Tester, pub Publisher, deployer Deployer, verifier Verifier, creds CredentialSource, st store.Store, logger *slog.Logger) *Pipeline {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 120 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		tester:   tester,
		pub:      pub,
		deployer: deployer,
		verifier: verifier,
		creds:    creds,
		store:    st,
		logger:   logger.With("component", "pipeline"),
	}
}

// Run executes the full pipeline for one source revision and records
// the outcome. Returns the run record in all cases where one was
// started, alongside the first stage error if any.
func (p *Pipeline) Run(ctx context.Context, revision string) (*domain.PipelineRun, error) {
	run, err := domain.NewPipelineRun(revision)
	if err != nil {
		return nil, err
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	p.logger.Info("pipeline started", "run", run.ID, "revision", revision)

	if err := p.execute(ctx, run); err != nil {
		// The last stage that completed, before Finish stamps the run failed.
		stage := run.Status
		run.Finish(domain.RunStatusFailed, err)
		if uerr := p.store.UpdateRun(ctx, run); uerr != nil {
			p.logger.Warn("failed to record run outcome", "run", run.ID, "error", uerr)
		}
		p.logger.Error("pipeline failed", "run", run.ID, "stage", stage, "error", err)
		return run, err
	}

	run.Finish(domain.RunStatusVerified, nil)
	if err := p.store.UpdateRun(ctx, run); err != nil {
		p.logger.Warn("failed to record run outcome", "run", run.ID, "error", err)
	}
	p.logger.Info("pipeline succeeded", "run", run.ID, "revision", revision)
	return run, nil
}

func (p *Pipeline) execute(ctx context.Context, run *domain.PipelineRun) error {
	if err := p.tester.Test(ctx); err != nil {
		return err
	}
	p.advance(ctx, run, domain.RunStatusTested)

	host, username, password, err := p.creds.RegistryCredentials(ctx)
	if err != nil {
		return fmt.Errorf("registry credentials: %w", err)
	}

	artifact, err := p.pub.Publish(ctx, publish.BuildInput{
		ContextDir: p.cfg.ContextDir,
		Dockerfile: p.cfg.Dockerfile,
		Revision:   run.Revision,
		Registry:   p.cfg.Registry,
	}, publish.RegistryAuth{Username: username, Password: password})
	if err != nil {
		return err
	}
	p.advance(ctx, run, domain.RunStatusPublished)

	target, err := p.store.GetTarget(ctx, p.cfg.TargetName)
	if err != nil {
		return fmt.Errorf("load target %s: %w", p.cfg.TargetName, err)
	}
	target.Env = p.cfg.Env

	login := remote.RegistryLogin{Host: host, Username: username, Password: password}
	if err := p.deployer.Deploy(ctx, *target, *artifact, login); err != nil {
		return err
	}
	p.advance(ctx, run, domain.RunStatusDeployed)

	endpoint := target.HealthEndpoint(p.cfg.HealthPath)
	if _, err := p.verifier.WaitHealthy(ctx, endpoint, p.cfg.HealthTimeout, p.cfg.PollInterval); err != nil {
		return err
	}
	return nil
}

// advance records stage progress. Bookkeeping failures are logged, not
// fatal: the deploy itself takes precedence over its audit trail.
func (p *Pipeline) advance(ctx context.Context, run *domain.PipelineRun, status domain.RunStatus) {
	run.Status = status
	if err := p.store.UpdateRun(ctx, run); err != nil {
		p.logger.Warn("failed to record stage", "run", run.ID, "stage", status, "error", err)
	}
	p.logger.Info("stage complete", "run", run.ID, "stage", status)
}
