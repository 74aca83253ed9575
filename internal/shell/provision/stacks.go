package provision

import (
	"context"
	"fmt"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

// =============================================================================
// Stack Config
// =============================================================================

// StackConfig names the resource groups for one deployment namespace.
// Resource names derive from the namespace so that the identity tuple
// (kind, name, region) is stable across runs.
type StackConfig struct {
	Namespace    string // e.g. "bike-inventory"
	Region       string
	SSHPublicKey string
	InstanceType string

	DBInstanceClass string
	DBEngineVersion string
	DBAllocatedGB   int32
	DBUsername      string
	DBPassword      string
	DBName          string
}

func (c StackConfig) registryName() string { return c.Namespace + "-api" }
func (c StackConfig) keyName() string      { return c.Namespace + "-key" }
func (c StackConfig) groupName() string    { return c.Namespace + "-sg" }
func (c StackConfig) roleName() string     { return c.Namespace + "-ec2-role" }
func (c StackConfig) instanceName() string { return c.Namespace + "-host" }
func (c StackConfig) dbGroupName() string  { return c.Namespace + "-db-sg" }
func (c StackConfig) dbName() string       { return c.Namespace + "-db" }

// RegistryName and InstanceName expose the derived resource names that
// other layers look up after provisioning.
func (c StackConfig) RegistryName() string { return c.registryName() }
func (c StackConfig) InstanceName() string { return c.instanceName() }

// =============================================================================
// Network + Compute Stack
// =============================================================================

// NetworkComputeResult holds the descriptors the rest of the pipeline
// consumes: the registry URI for publishing and the instance address for
// deploying.
type NetworkComputeResult struct {
	Registry      *domain.ResourceDescriptor
	KeyPair       *domain.ResourceDescriptor
	SecurityGroup *domain.ResourceDescriptor
	Role          *domain.ResourceDescriptor
	Instance      *domain.ResourceDescriptor
}

// EnsureNetworkCompute provisions the registry, SSH key, network
// perimeter, compute identity and compute host, in dependency order.
// A failure aborts the remaining resources in this run; re-running
// converges through Ensure's idempotency.
func (p *Provisioner) EnsureNetworkCompute(ctx context.Context, cfg StackConfig) (*NetworkComputeResult, error) {
	res := &NetworkComputeResult{}
	var err error

	res.Registry, err = p.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindRegistry, Name: cfg.registryName(), Region: cfg.Region,
	}, ResourceSpec{})
	if err != nil {
		return nil, err
	}

	res.KeyPair, err = p.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindKeyPair, Name: cfg.keyName(), Region: cfg.Region,
	}, ResourceSpec{KeyPair: &KeyPairSpec{PublicKey: cfg.SSHPublicKey}})
	if err != nil {
		return nil, err
	}

	// Network perimeter before compute host. Ingress is fixed: SSH plus
	// plain and TLS HTTP, nothing else.
	res.SecurityGroup, err = p.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindSecurityGroup, Name: cfg.groupName(), Region: cfg.Region,
	}, ResourceSpec{SecurityGroup: &SecurityGroupSpec{
		Description: "bikedeploy managed perimeter - " + cfg.Namespace,
		Ingress: []IngressRule{
			{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDR: "0.0.0.0/0", Description: "SSH"},
			{Protocol: "tcp", FromPort: 80, ToPort: 80, CIDR: "0.0.0.0/0", Description: "HTTP"},
			{Protocol: "tcp", FromPort: 443, ToPort: 443, CIDR: "0.0.0.0/0", Description: "HTTPS"},
		},
	}})
	if err != nil {
		return nil, err
	}

	res.Role, err = p.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindRole, Name: cfg.roleName(), Region: cfg.Region,
	}, ResourceSpec{Role: &RoleSpec{
		AssumeService:   "ec2.amazonaws.com",
		PolicyARNs:      []string{"arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly"},
		InstanceProfile: true,
	}})
	if err != nil {
		return nil, err
	}

	res.Instance, err = p.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindInstance, Name: cfg.instanceName(), Region: cfg.Region,
	}, ResourceSpec{Instance: &InstanceSpec{
		Type:            cfg.InstanceType,
		KeyName:         res.KeyPair.Name,
		SecurityGroupID: res.SecurityGroup.ProviderID,
		ProfileName:     res.Role.Name,
		UserData:        dockerInstallUserData(),
		AwaitPublicIP:   true,
	}})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// =============================================================================
// Database Stack
// =============================================================================

// DatabaseResult holds the database perimeter and instance descriptors.
type DatabaseResult struct {
	SecurityGroup *domain.ResourceDescriptor
	Database      *domain.ResourceDescriptor
}

// EnsureDatabase provisions the database perimeter and the encrypted
// database instance. The perimeter admits only the compute security group,
// by group identity rather than IP, so host replacement does not break
// database access. Requires the compute stack to exist first.
func (p *Provisioner) EnsureDatabase(ctx context.Context, cfg StackConfig) (*DatabaseResult, error) {
	compute, err := p.api.Probe(ctx, domain.ResourceDescriptor{
		Kind: domain.KindSecurityGroup, Name: cfg.groupName(), Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("compute perimeter %s must exist before the database: %w", cfg.groupName(), err)
	}

	res := &DatabaseResult{}

	res.SecurityGroup, err = p.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindSecurityGroup, Name: cfg.dbGroupName(), Region: cfg.Region,
	}, ResourceSpec{SecurityGroup: &SecurityGroupSpec{
		Description: "bikedeploy managed database perimeter - " + cfg.Namespace,
		Ingress: []IngressRule{
			{Protocol: "tcp", FromPort: 5432, ToPort: 5432, SourceGroupID: compute.ProviderID, Description: "postgres from compute"},
		},
	}})
	if err != nil {
		return nil, err
	}

	res.Database, err = p.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindDatabase, Name: cfg.dbName(), Region: cfg.Region,
	}, ResourceSpec{Database: &DatabaseSpec{
		Engine:          "postgres",
		EngineVersion:   cfg.DBEngineVersion,
		InstanceClass:   cfg.DBInstanceClass,
		AllocatedGB:     cfg.DBAllocatedGB,
		Username:        cfg.DBUsername,
		Password:        cfg.DBPassword,
		DBName:          cfg.DBName,
		SecurityGroupID: res.SecurityGroup.ProviderID,
	}})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// dockerInstallUserData returns a cloud-init script that installs Docker on
// the compute host at first boot.
func dockerInstallUserData() string {
	return `#!/bin/bash
set -e
apt-get update -y
apt-get install -y ca-certificates curl gnupg
install -m 0755 -d /etc/apt/keyrings
curl -fsSL https://download.docker.com/linux/ubuntu/gpg | gpg --dearmor -o /etc/apt/keyrings/docker.gpg
chmod a+r /etc/apt/keyrings/docker.gpg
echo "deb [arch=$(dpkg --print-architecture) signed-by=/etc/apt/keyrings/docker.gpg] https://download.docker.com/linux/ubuntu $(. /etc/os-release && echo "$VERSION_CODENAME") stable" | tee /etc/apt/sources.list.d/docker.list > /dev/null
apt-get update -y
apt-get install -y docker-ce docker-ce-cli containerd.io docker-buildx-plugin docker-compose-plugin
systemctl enable docker
systemctl start docker
`
}
