// Package domain contains the core domain types for the deployment
// pipeline. This is part of the Functional Core - all functions are pure
// with no I/O.
package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Resource Kinds
// =============================================================================

// ResourceKind identifies a class of cloud infrastructure resource managed
// by the provisioner.
type ResourceKind string

const (
	KindRegistry      ResourceKind = "registry"
	KindKeyPair       ResourceKind = "keypair"
	KindSecurityGroup ResourceKind = "securitygroup"
	KindRole          ResourceKind = "role"
	KindInstance      ResourceKind = "instance"
	KindDatabase      ResourceKind = "database"
	KindLogGroup      ResourceKind = "loggroup"
	KindTopic         ResourceKind = "topic"
	KindAlarm         ResourceKind = "alarm"
	KindDashboard     ResourceKind = "dashboard"
)

// IsValid checks if the resource kind is supported.
func (k ResourceKind) IsValid() bool {
	switch k {
	case KindRegistry, KindKeyPair, KindSecurityGroup, KindRole, KindInstance,
		KindDatabase, KindLogGroup, KindTopic, KindAlarm, KindDashboard:
		return true
	default:
		return false
	}
}

// =============================================================================
// Resource Status
// =============================================================================

// ResourceStatus describes the provisioner's view of a resource.
type ResourceStatus string

const (
	ResourceStatusCreated  ResourceStatus = "created"
	ResourceStatusExisting ResourceStatus = "existing"
	ResourceStatusUnknown  ResourceStatus = "unknown"
)

// =============================================================================
// Resource Descriptor
// =============================================================================

// ResourceDescriptor identifies one cloud resource. Identity is the
// (kind, name, region) tuple; descriptors are never mutated in place - a
// conflicting create means "already exists, reuse".
type ResourceDescriptor struct {
	Kind   ResourceKind   `json:"kind"`
	Name   string         `json:"name"`
	Region string         `json:"region"`
	Status ResourceStatus `json:"status"`

	// ProviderID is the cloud-assigned identifier (instance id, group id,
	// topic ARN). Empty until the resource has been probed or created.
	ProviderID string `json:"provider_id,omitempty"`

	// Address is the reachable endpoint where one exists: repository URI
	// for a registry, public IP for an instance, endpoint for a database.
	Address string `json:"address,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Identity returns the unique identity tuple for the resource.
func (d ResourceDescriptor) Identity() string {
	return fmt.Sprintf("%s/%s/%s", d.Kind, d.Name, d.Region)
}

// Validate checks the descriptor's identity fields.
func (d ResourceDescriptor) Validate() error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidResourceKind, d.Kind)
	}
	if d.Name == "" {
		return ErrResourceNameRequired
	}
	if d.Region == "" {
		return ErrResourceRegionRequired
	}
	return nil
}
