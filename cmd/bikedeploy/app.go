package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/client"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/provision"
	"github.com/pedalworks/bikedeploy/internal/shell/provision/awscloud"
	"github.com/pedalworks/bikedeploy/internal/shell/remote"
	"github.com/pedalworks/bikedeploy/internal/shell/store"
)

// =============================================================================
// Wiring
// =============================================================================

func newCloud(ctx context.Context) (*awscloud.Cloud, error) {
	return awscloud.New(ctx, cfg.AWS.Region, cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, logger)
}

func newDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

func openStore() (store.Store, error) {
	if dir := filepath.Dir(cfg.Store.DSN); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return store.NewSQLiteStore(cfg.Store.DSN)
}

// stackConfig assembles the provisioning parameters, reading the SSH
// public key from disk.
func stackConfig() (provision.StackConfig, error) {
	key, err := os.ReadFile(cfg.Stack.SSHPublicKeyPath)
	if err != nil {
		return provision.StackConfig{}, fmt.Errorf("read SSH public key: %w", err)
	}
	return provision.StackConfig{
		Namespace:       cfg.Stack.Namespace,
		Region:          cfg.AWS.Region,
		SSHPublicKey:    strings.TrimSpace(string(key)),
		InstanceType:    cfg.Stack.InstanceType,
		DBInstanceClass: cfg.Stack.DBInstanceClass,
		DBEngineVersion: cfg.Stack.DBEngineVersion,
		DBAllocatedGB:   cfg.Stack.DBAllocatedGB,
		DBUsername:      cfg.Stack.DBUsername,
		DBPassword:      cfg.Stack.DBPassword,
		DBName:          cfg.Stack.DBName,
	}, nil
}

// registryURI resolves the image repository address from the live
// registry resource.
func registryURI(ctx context.Context, cloud *awscloud.Cloud, sc provision.StackConfig) (string, error) {
	desc, err := cloud.Probe(ctx, domain.ResourceDescriptor{
		Kind: domain.KindRegistry, Name: sc.RegistryName(), Region: sc.Region,
	})
	if err != nil {
		return "", fmt.Errorf("registry %s not provisioned yet: %w", sc.RegistryName(), err)
	}
	return desc.Address, nil
}

// loadTarget reads the target recorded by provisioning and overlays the
// deploy-time runtime env from the pass-through list.
func loadTarget(ctx context.Context, st store.Store) (*domain.DeploymentTarget, error) {
	target, err := st.GetTarget(ctx, cfg.Service.Name)
	if err != nil {
		return nil, fmt.Errorf("target %s not provisioned yet: %w", cfg.Service.Name, err)
	}
	target.Env = passthroughEnv()
	return target, nil
}

// configuredTarget builds a target straight from configuration, for
// flows that run before provisioning has recorded one.
func configuredTarget(host string) domain.DeploymentTarget {
	target := domain.DeploymentTarget{
		Name:    cfg.Service.Name,
		Host:    host,
		SSHUser: cfg.Target.SSHUser,
		SSHPort: cfg.Target.SSHPort,
		Env:     passthroughEnv(),
	}
	for _, p := range cfg.Target.Ports {
		target.Ports = append(target.Ports, domain.PortMapping{
			HostPort: p.Host, ContainerPort: p.Container, Protocol: p.Protocol,
		})
	}
	for _, v := range cfg.Target.Volumes {
		target.Volumes = append(target.Volumes, domain.VolumeMount{
			Source: v.Source, Target: v.Target, ReadOnly: v.ReadOnly,
		})
	}
	return target
}

func passthroughEnv() map[string]string {
	if len(cfg.Target.EnvPassthrough) == 0 {
		return nil
	}
	env := make(map[string]string, len(cfg.Target.EnvPassthrough))
	for _, name := range cfg.Target.EnvPassthrough {
		if value, ok := os.LookupEnv(name); ok {
			env[name] = value
		}
	}
	return env
}

// sshExecutor opens the SSH channel to the target host.
func sshExecutor(target *domain.DeploymentTarget) (*remote.SSHExecutor, error) {
	key, err := os.ReadFile(cfg.Target.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read SSH private key: %w", err)
	}
	return remote.NewSSHExecutor(remote.SSHConfig{
		Host: target.Host,
		Port: target.SSHPort,
		User: target.SSHUser,
	}, key)
}
