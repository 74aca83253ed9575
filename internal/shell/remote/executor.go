// Package remote executes deployment commands on the compute host over an
// authenticated SSH session.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// =============================================================================
// Executor Interface
// =============================================================================

// Result is the typed outcome of one remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs commands on the deployment target. A fake implementation
// stands in for the SSH transport in tests.
type Executor interface {
	// Run executes the command, optionally feeding stdin, and returns the
	// exit status with captured output. A non-zero exit is returned in the
	// Result, not as an error; errors mean the command could not be run.
	Run(ctx context.Context, command string, stdin io.Reader) (Result, error)

	Close() error
}

// =============================================================================
// SSH Executor
// =============================================================================

// SSHConfig configures the SSH executor.
type SSHConfig struct {
	Host           string
	Port           int           // Default: 22
	User           string
	CommandTimeout time.Duration // Default: 120 seconds (pulls are slow)
	ConnectTimeout time.Duration // Default: 10 seconds
}

// SSHExecutor implements Executor over an SSH connection with one session
// per command. The private credential is supplied out of band and never
// appears in commands or logs.
type SSHExecutor struct {
	config SSHConfig
	signer ssh.Signer

	client *ssh.Client
	mu     sync.Mutex // protects client
}

// NewSSHExecutor creates an executor for the target host. privateKey is
// the decrypted PEM-encoded SSH key.
func NewSSHExecutor(config SSHConfig, privateKey []byte) (*SSHExecutor, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key: %w", err)
	}

	if config.Port == 0 {
		config.Port = 22
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 120 * time.Second
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	return &SSHExecutor{
		config: config,
		signer: signer,
	}, nil
}

// connect establishes the SSH connection if not already connected.
func (e *SSHExecutor) connect(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		// Check if connection is still alive
		_, _, err := e.client.SendRequest("keepalive@bikedeploy", true, nil)
		if err == nil {
			return nil
		}
		// Connection dead, reconnect
		e.client.Close()
		e.client = nil
	}

	config := &ssh.ClientConfig{
		User:            e.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: pin the host key recorded at provision time
		Timeout:         e.config.ConnectTimeout,
	}

	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	e.client = client
	return nil
}

// Run executes one command in its own session with a bounded duration.
func (e *SSHExecutor) Run(ctx context.Context, command string, stdin io.Reader) (Result, error) {
	if err := e.connect(ctx); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	session, err := e.client.NewSession()
	e.mu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(e.config.CommandTimeout):
		return Result{}, fmt.Errorf("command timeout after %v", e.config.CommandTimeout)
	case err := <-done:
		result := Result{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return result, fmt.Errorf("run command: %w", err)
		}
		return result, nil
	}
}

// Close closes the SSH connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}
