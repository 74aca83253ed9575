package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Deployment Target
// =============================================================================

// PortMapping binds a host port to a container port.
type PortMapping struct {
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol,omitempty"` // default tcp
}

// VolumeMount binds a host-persistent directory into the container so that
// re-deploys do not lose state.
type VolumeMount struct {
	Source   string `json:"source"` // host path
	Target   string `json:"target"` // container path
	ReadOnly bool   `json:"read_only,omitempty"`
}

// DeploymentTarget is the addressable compute host plus its persistent
// mounts where a service instance runs. Long-lived; owned by the
// provisioner, referenced by the deployer.
type DeploymentTarget struct {
	// Name is the well-known logical container name on the host.
	Name string `json:"name"`

	Host    string `json:"host"`
	SSHUser string `json:"ssh_user"`
	SSHPort int    `json:"ssh_port"` // default 22

	Ports   []PortMapping     `json:"ports"`
	Volumes []VolumeMount     `json:"volumes"`
	Env     map[string]string `json:"-"` // opaque runtime config, never logged

	// RunningTag is the tag of the artifact currently deployed, recorded
	// after the last successful deploy.
	RunningTag string    `json:"running_tag,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// HealthEndpoint returns the URL where the service answers health checks
// from outside the host, through the first declared port binding.
func (t DeploymentTarget) HealthEndpoint(path string) string {
	port := 80
	if len(t.Ports) > 0 {
		port = t.Ports[0].HostPort
	}
	return fmt.Sprintf("http://%s:%d%s", t.Host, port, path)
}

// Validate checks the fields the deployer depends on.
func (t DeploymentTarget) Validate() error {
	if t.Host == "" {
		return ErrTargetHostRequired
	}
	if t.SSHUser == "" {
		return ErrTargetUserRequired
	}
	return nil
}
