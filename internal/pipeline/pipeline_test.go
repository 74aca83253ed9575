package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/publish"
	"github.com/pedalworks/bikedeploy/internal/shell/remote"
)

// =============================================================================
// Fakes
// =============================================================================

type memStore struct {
	runs    map[string]*domain.PipelineRun
	targets map[string]*domain.DeploymentTarget
}

func newMemStore() *memStore {
	return &memStore{
		runs:    make(map[string]*domain.PipelineRun),
		targets: make(map[string]*domain.DeploymentTarget),
	}
}

func (m *memStore) CreateRun(_ context.Context, run *domain.PipelineRun) error {
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) UpdateRun(_ context.Context, run *domain.PipelineRun) error {
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*domain.PipelineRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) ListRuns(_ context.Context, _ int) ([]domain.PipelineRun, error) {
	var out []domain.PipelineRun
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memStore) SaveTarget(_ context.Context, target *domain.DeploymentTarget) error {
	cp := *target
	m.targets[target.Name] = &cp
	return nil
}

func (m *memStore) GetTarget(_ context.Context, name string) (*domain.DeploymentTarget, error) {
	target, ok := m.targets[name]
	if !ok {
		return nil, errors.New("record not found")
	}
	cp := *target
	return &cp, nil
}

func (m *memStore) RecordRunningTag(_ context.Context, targetName, tag string) error {
	target, ok := m.targets[targetName]
	if !ok {
		return errors.New("record not found")
	}
	target.RunningTag = tag
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeTester struct {
	called bool
	err    error
}

func (f *fakeTester) Test(_ context.Context) error {
	f.called = true
	return f.err
}

type fakePublisher struct {
	build  publish.BuildInput
	auth   publish.RegistryAuth
	called bool
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, build publish.BuildInput, auth publish.RegistryAuth) (*domain.ArtifactReference, error) {
	f.called = true
	f.build = build
	f.auth = auth
	if f.err != nil {
		return nil, f.err
	}
	return domain.NewArtifactReference(build.Registry, build.Revision)
}

type fakeDeployer struct {
	recorder remote.TagRecorder
	target   domain.DeploymentTarget
	artifact domain.ArtifactReference
	login    remote.RegistryLogin
	called   bool
	err      error
}

func (f *fakeDeployer) Deploy(ctx context.Context, target domain.DeploymentTarget, artifact domain.ArtifactReference, login remote.RegistryLogin) error {
	f.called = true
	f.target = target
	f.artifact = artifact
	f.login = login
	if f.err != nil {
		return f.err
	}
	return f.recorder.RecordRunningTag(ctx, target.Name, artifact.Tag)
}

type fakeVerifier struct {
	endpoint string
	called   bool
	err      error
}

func (f *fakeVerifier) WaitHealthy(_ context.Context, endpoint string, _, _ time.Duration) (*domain.HealthReport, error) {
	f.called = true
	f.endpoint = endpoint
	if f.err != nil {
		return nil, f.err
	}
	return &domain.HealthReport{Status: domain.HealthStatusHealthy, Service: "bike-inventory-api"}, nil
}

type fakeCreds struct{}

func (fakeCreds) RegistryCredentials(_ context.Context) (string, string, string, error) {
	return "123456789.dkr.ecr.eu-west-1.amazonaws.com", "AWS", "ecr-token", nil
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	store    *memStore
	tester   *fakeTester
	pub      *fakePublisher
	deployer *fakeDeployer
	verifier *fakeVerifier
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMemStore()
	require.NoError(t, st.SaveTarget(context.Background(), &domain.DeploymentTarget{
		Name:    "bike-inventory-api",
		Host:    "203.0.113.10",
		SSHUser: "ubuntu",
		Ports:   []domain.PortMapping{{HostPort: 80, ContainerPort: 3000}},
	}))

	f := &fixture{
		store:    st,
		tester:   &fakeTester{},
		pub:      &fakePublisher{},
		deployer: &fakeDeployer{recorder: st},
		verifier: &fakeVerifier{},
	}
	f.pipeline = New(Config{
		ContextDir: "./service",
		Registry:   "123456789.dkr.ecr.eu-west-1.amazonaws.com/bike-inventory-api",
		TargetName: "bike-inventory-api",
		Env:        map[string]string{"DB_PASSWORD": "s3cret"},
	}, f.tester, f.pub, f.deployer, f.verifier, fakeCreds{}, st, nil)
	return f
}

// =============================================================================
// Run
// =============================================================================

func TestPipeline_EndToEnd(t *testing.T) {
	f := newFixture(t)

	run, err := f.pipeline.Run(context.Background(), "abc123")
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusVerified, run.Status)
	require.NotNil(t, run.FinishedAt)

	// Published artifact is tagged with the exact revision and that same
	// tag ends up recorded as running on the target.
	assert.Equal(t, "abc123", f.deployer.artifact.Tag)
	target, err := f.store.GetTarget(context.Background(), "bike-inventory-api")
	require.NoError(t, err)
	assert.Equal(t, "abc123", target.RunningTag)

	assert.Equal(t, "http://203.0.113.10:80/health", f.verifier.endpoint)

	// Runtime env reaches the deployer but never the store.
	assert.Equal(t, "s3cret", f.deployer.target.Env["DB_PASSWORD"])
	assert.Empty(t, target.Env)
	assert.Equal(t, "ecr-token", f.deployer.login.Password)
	assert.Equal(t, "ecr-token", f.pub.auth.Password)

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusVerified, stored.Status)
}

func TestPipeline_VerifiesThroughDeclaredHostPort(t *testing.T) {
	// The service is reachable on whatever host port the target binds,
	// not necessarily 80.
	f := newFixture(t)
	require.NoError(t, f.store.SaveTarget(context.Background(), &domain.DeploymentTarget{
		Name:    "bike-inventory-api",
		Host:    "203.0.113.10",
		SSHUser: "ubuntu",
		Ports:   []domain.PortMapping{{HostPort: 8080, ContainerPort: 3000}},
	}))

	_, err := f.pipeline.Run(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "http://203.0.113.10:8080/health", f.verifier.endpoint)
}

func TestPipeline_TestFailureStopsEverything(t *testing.T) {
	f := newFixture(t)
	f.tester.err = errors.New("2 tests failed")

	run, err := f.pipeline.Run(context.Background(), "abc123")
	require.Error(t, err)

	assert.False(t, f.pub.called)
	assert.False(t, f.deployer.called)
	assert.False(t, f.verifier.called)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "2 tests failed")
}

func TestPipeline_PublishFailureSkipsDeploy(t *testing.T) {
	f := newFixture(t)
	f.pub.err = domain.ErrBuildFailed

	_, err := f.pipeline.Run(context.Background(), "abc123")
	assert.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.True(t, f.tester.called)
	assert.False(t, f.deployer.called)
	assert.False(t, f.verifier.called)
}

func TestPipeline_DeployFailureSkipsVerify(t *testing.T) {
	f := newFixture(t)
	f.deployer.err = domain.ErrDeployFailed

	_, err := f.pipeline.Run(context.Background(), "abc123")
	assert.ErrorIs(t, err, domain.ErrDeployFailed)
	assert.False(t, f.verifier.called)

	// Nothing recorded as running.
	target, err := f.store.GetTarget(context.Background(), "bike-inventory-api")
	require.NoError(t, err)
	assert.Empty(t, target.RunningTag)
}

func TestPipeline_FailureLogsLastCompletedStage(t *testing.T) {
	// A publish failure happens after the test stage, and that is the
	// stage the failure log must name, not the terminal failed status.
	f := newFixture(t)
	f.pub.err = domain.ErrBuildFailed

	var buf bytes.Buffer
	p := New(Config{
		Registry:   "123456789.dkr.ecr.eu-west-1.amazonaws.com/bike-inventory-api",
		TargetName: "bike-inventory-api",
	}, f.tester, f.pub, f.deployer, f.verifier, fakeCreds{}, f.store,
		slog.New(slog.NewTextHandler(&buf, nil)))

	_, err := p.Run(context.Background(), "abc123")
	require.Error(t, err)

	assert.Contains(t, buf.String(), "pipeline failed")
	assert.Contains(t, buf.String(), "stage=tested")
	assert.NotContains(t, buf.String(), "stage=failed")
}

func TestPipeline_VerifyTimeoutFailsRun(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = domain.ErrHealthTimeout

	run, err := f.pipeline.Run(context.Background(), "abc123")
	assert.ErrorIs(t, err, domain.ErrHealthTimeout)
	assert.Equal(t, domain.RunStatusFailed, run.Status)

	// The deploy itself happened; the instance is left for inspection.
	assert.True(t, f.deployer.called)
}

func TestPipeline_UnknownTargetFails(t *testing.T) {
	f := newFixture(t)
	f.pipeline.cfg.TargetName = "nope"

	_, err := f.pipeline.Run(context.Background(), "abc123")
	require.Error(t, err)
	assert.True(t, f.pub.called)
	assert.False(t, f.deployer.called)
}

func TestPipeline_RequiresRevision(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Run(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrRevisionRequired)
}

// =============================================================================
// Command Tester
// =============================================================================

func TestCommandTester(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, CommandTester{Command: []string{"true"}}.Test(ctx))
	assert.Error(t, CommandTester{Command: []string{"false"}}.Test(ctx))
	assert.Error(t, CommandTester{}.Test(ctx))
}
