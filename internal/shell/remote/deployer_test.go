package remote

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

// =============================================================================
// Fake Executor
// =============================================================================

type executedCommand struct {
	command string
	stdin   string
}

// fakeExecutor records commands and returns scripted results keyed by a
// command prefix.
type fakeExecutor struct {
	commands []executedCommand
	results  map[string]Result
	errs     map[string]error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		results: make(map[string]Result),
		errs:    make(map[string]error),
	}
}

func (f *fakeExecutor) Run(_ context.Context, command string, stdin io.Reader) (Result, error) {
	var in string
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		in = string(b)
	}
	f.commands = append(f.commands, executedCommand{command: command, stdin: in})

	for prefix, err := range f.errs {
		if strings.HasPrefix(command, prefix) {
			return Result{}, err
		}
	}
	for prefix, result := range f.results {
		if strings.HasPrefix(command, prefix) {
			return result, nil
		}
	}
	return Result{}, nil
}

func (f *fakeExecutor) Close() error { return nil }

func (f *fakeExecutor) commandStrings() []string {
	out := make([]string, len(f.commands))
	for i, c := range f.commands {
		out[i] = c.command
	}
	return out
}

// =============================================================================
// Fake Recorder
// =============================================================================

type fakeRecorder struct {
	targetName string
	tag        string
}

func (f *fakeRecorder) RecordRunningTag(_ context.Context, targetName, tag string) error {
	f.targetName = targetName
	f.tag = tag
	return nil
}

// =============================================================================
// Fixtures
// =============================================================================

func testTarget() domain.DeploymentTarget {
	return domain.DeploymentTarget{
		Name:    "bike-inventory-api",
		Host:    "203.0.113.10",
		SSHUser: "ubuntu",
		Ports:   []domain.PortMapping{{HostPort: 80, ContainerPort: 3000}},
		Volumes: []domain.VolumeMount{
			{Source: "/srv/bike-inventory/uploads", Target: "/app/uploads"},
			{Source: "/srv/bike-inventory/logs", Target: "/app/logs"},
		},
		Env: map[string]string{
			"DB_PASSWORD": "s3cret",
			"PORT":        "3000",
		},
	}
}

func testArtifact() domain.ArtifactReference {
	return domain.ArtifactReference{
		Registry: "123.dkr.ecr.eu-west-1.amazonaws.com/bike-inventory-api",
		Tag:      "abc123",
	}
}

func testLogin() RegistryLogin {
	return RegistryLogin{
		Host:     "123.dkr.ecr.eu-west-1.amazonaws.com",
		Username: "AWS",
		Password: "ecr-token",
	}
}

// =============================================================================
// Deploy
// =============================================================================

func TestDeploy_FullSequence(t *testing.T) {
	exec := newFakeExecutor()
	recorder := &fakeRecorder{}
	d := NewDeployer(exec, recorder, nil)

	err := d.Deploy(context.Background(), testTarget(), testArtifact(), testLogin())
	require.NoError(t, err)

	cmds := exec.commandStrings()
	require.Len(t, cmds, 5)
	assert.Contains(t, cmds[0], "docker login")
	assert.Contains(t, cmds[1], "docker rm -f")
	assert.Contains(t, cmds[2], "docker pull")
	assert.Contains(t, cmds[3], "docker run -d")
	assert.Contains(t, cmds[4], "docker image prune")

	assert.Equal(t, "bike-inventory-api", recorder.targetName)
	assert.Equal(t, "abc123", recorder.tag)
}

func TestDeploy_PasswordOnlyOnStdin(t *testing.T) {
	exec := newFakeExecutor()
	d := NewDeployer(exec, nil, nil)

	require.NoError(t, d.Deploy(context.Background(), testTarget(), testArtifact(), testLogin()))

	assert.Equal(t, "ecr-token", exec.commands[0].stdin)
	for _, c := range exec.commands {
		assert.NotContains(t, c.command, "ecr-token")
	}
}

func TestDeploy_PullsExactTagNeverLatest(t *testing.T) {
	exec := newFakeExecutor()
	d := NewDeployer(exec, nil, nil)

	require.NoError(t, d.Deploy(context.Background(), testTarget(), testArtifact(), testLogin()))

	pull := exec.commandStrings()[2]
	assert.Contains(t, pull, ":abc123")
	assert.NotContains(t, pull, "latest")
}

func TestDeploy_TeardownNoOpWhenAbsent(t *testing.T) {
	exec := newFakeExecutor()
	exec.results["docker rm -f"] = Result{
		ExitCode: 1,
		Stderr:   "Error response from daemon: No such container: bike-inventory-api",
	}
	d := NewDeployer(exec, nil, nil)

	// Missing previous instance is success, the deploy continues.
	err := d.Deploy(context.Background(), testTarget(), testArtifact(), testLogin())
	require.NoError(t, err)
	assert.Len(t, exec.commands, 5)
}

func TestDeploy_TeardownRealFailureIsFatal(t *testing.T) {
	exec := newFakeExecutor()
	exec.results["docker rm -f"] = Result{ExitCode: 1, Stderr: "permission denied"}
	d := NewDeployer(exec, nil, nil)

	err := d.Deploy(context.Background(), testTarget(), testArtifact(), testLogin())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeployFailed)
	// Nothing past teardown ran.
	assert.Len(t, exec.commands, 2)
}

func TestDeploy_LoginFailureStopsEverything(t *testing.T) {
	exec := newFakeExecutor()
	exec.results["docker login"] = Result{ExitCode: 1, Stderr: "unauthorized"}
	d := NewDeployer(exec, nil, nil)

	err := d.Deploy(context.Background(), testTarget(), testArtifact(), testLogin())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeployFailed)
	assert.Len(t, exec.commands, 1)
}

func TestDeploy_StartFailureLeavesPartialState(t *testing.T) {
	exec := newFakeExecutor()
	exec.results["docker run"] = Result{ExitCode: 125, Stderr: "port is already allocated"}
	d := NewDeployer(exec, nil, nil)

	err := d.Deploy(context.Background(), testTarget(), testArtifact(), testLogin())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeployFailed)
	// No prune, no recovery attempt: next run converges.
	assert.Len(t, exec.commands, 4)
}

func TestDeploy_PruneFailureIsNotFatal(t *testing.T) {
	exec := newFakeExecutor()
	exec.results["docker image prune"] = Result{ExitCode: 1, Stderr: "prune in progress"}
	d := NewDeployer(exec, nil, nil)

	err := d.Deploy(context.Background(), testTarget(), testArtifact(), testLogin())
	assert.NoError(t, err)
}

func TestDeploy_InvalidTarget(t *testing.T) {
	d := NewDeployer(newFakeExecutor(), nil, nil)

	err := d.Deploy(context.Background(), domain.DeploymentTarget{Name: "x"}, testArtifact(), testLogin())
	assert.ErrorIs(t, err, domain.ErrTargetHostRequired)
}

// =============================================================================
// Command Construction
// =============================================================================

func TestStartCommand_BindsStateAndConfig(t *testing.T) {
	cmd, logged := startCommand(testTarget(), testArtifact())

	assert.Contains(t, cmd, "--name 'bike-inventory-api'")
	assert.Contains(t, cmd, "--restart unless-stopped")
	assert.Contains(t, cmd, "-p 80:3000/tcp")
	assert.Contains(t, cmd, "-v '/srv/bike-inventory/uploads:/app/uploads'")
	assert.Contains(t, cmd, "-v '/srv/bike-inventory/logs:/app/logs'")
	assert.Contains(t, cmd, "'DB_PASSWORD=s3cret'")
	assert.Contains(t, cmd, "bike-inventory-api:abc123'")

	// The logged variant keeps structure but hides values.
	assert.Contains(t, logged, "-e DB_PASSWORD=***")
	assert.NotContains(t, logged, "s3cret")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
