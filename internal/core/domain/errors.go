package domain

import "errors"

// =============================================================================
// Validation Errors
// =============================================================================

var (
	ErrInvalidResourceKind    = errors.New("invalid resource kind")
	ErrResourceNameRequired   = errors.New("resource name is required")
	ErrResourceRegionRequired = errors.New("resource region is required")

	ErrRevisionRequired = errors.New("revision identifier is required")
	ErrRegistryRequired = errors.New("registry URI is required")

	ErrTargetHostRequired = errors.New("target host is required")
	ErrTargetUserRequired = errors.New("target SSH user is required")
)

// =============================================================================
// Failure Taxonomy
// =============================================================================

// The pipeline classifies every failure into one of these categories.
// AlreadyExists is success-like: provisioning swallows it and reuses the
// live resource. Everything else aborts the current run; recovery is
// re-running the pipeline and converging through idempotency.
var (
	// ErrAlreadyExists marks a provisioning call that found the resource
	// already present. Treated as success, not an error.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrResourceNotFound marks a probe that found no matching resource.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrTransientInfra marks a cloud API failure other than existence
	// (auth, quota, network). Fatal to the current run, no automatic retry.
	ErrTransientInfra = errors.New("infrastructure call failed")

	// ErrBuildFailed marks a failed image construction. Fatal before publish.
	ErrBuildFailed = errors.New("image build failed")

	// ErrDeployFailed marks a failed remote session or container lifecycle
	// command. Fatal; the service is left in the last partial state.
	ErrDeployFailed = errors.New("deploy failed")

	// ErrHealthTimeout marks a deploy whose instance never reported healthy
	// within the window. The instance is left running for inspection.
	ErrHealthTimeout = errors.New("service did not become healthy within the window")
)
