// Package provision implements the idempotent resource provisioner.
// This is part of the Imperative Shell - it reconciles desired resources
// against the live cloud state.
package provision

import "github.com/pedalworks/bikedeploy/internal/core/domain"

// =============================================================================
// Resource Specs
// =============================================================================

// IngressRule opens one port range on a security group. Either CIDR or
// SourceGroupID is set; a group reference keeps database access bound to
// the compute perimeter's identity rather than an IP.
type IngressRule struct {
	Protocol      string
	FromPort      int32
	ToPort        int32
	CIDR          string
	SourceGroupID string
	Description   string
}

// KeyPairSpec imports a public key for SSH access to the compute host.
type KeyPairSpec struct {
	PublicKey string
}

// SecurityGroupSpec creates a network perimeter with fixed ingress rules.
type SecurityGroupSpec struct {
	Description string
	Ingress     []IngressRule
}

// RoleSpec creates an identity role assumed by the compute service, with
// read-only registry access attached.
type RoleSpec struct {
	AssumeService   string // e.g. ec2.amazonaws.com
	PolicyARNs      []string
	InstanceProfile bool // also create a same-named instance profile
}

// InstanceSpec launches the compute host.
type InstanceSpec struct {
	Type            string
	KeyName         string
	SecurityGroupID string
	ProfileName     string
	UserData        string
	AwaitPublicIP   bool
}

// DatabaseSpec creates the managed database with encrypted storage and no
// public access.
type DatabaseSpec struct {
	Engine          string
	EngineVersion   string
	InstanceClass   string
	AllocatedGB     int32
	Username        string
	Password        string
	DBName          string
	SecurityGroupID string
}

// LogGroupSpec creates the log sink with a fixed retention window.
type LogGroupSpec struct {
	RetentionDays int32
}

// DashboardSpec declares the dashboard body (provider JSON).
type DashboardSpec struct {
	Body string
}

// ResourceSpec carries the kind-specific creation parameters for one
// resource. Exactly one of the pointer fields matches the descriptor kind;
// kinds without parameters (registry, topic) leave them all nil.
type ResourceSpec struct {
	KeyPair       *KeyPairSpec
	SecurityGroup *SecurityGroupSpec
	Role          *RoleSpec
	Instance      *InstanceSpec
	Database      *DatabaseSpec
	LogGroup      *LogGroupSpec
	Alarm         *domain.AlarmRule
	Dashboard     *DashboardSpec

	// Upsert skips the existence probe and always writes, for kinds whose
	// create is a natural put (alarms, dashboards). Later parameters win.
	Upsert bool
}
