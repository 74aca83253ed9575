package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

// =============================================================================
// Cloud API
// =============================================================================

// CloudAPI is the minimal surface the provisioner needs from a cloud.
// Probe returns domain.ErrResourceNotFound when no resource matches the
// descriptor's identity tuple. Create returns domain.ErrAlreadyExists when
// the cloud reports a duplicate.
type CloudAPI interface {
	Probe(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error)
	Create(ctx context.Context, desc domain.ResourceDescriptor, spec ResourceSpec) (*domain.ResourceDescriptor, error)
}

// =============================================================================
// Provisioner
// =============================================================================

// Provisioner reconciles desired resources against live cloud state.
// Ensure is idempotent: re-running after a partial failure converges
// without mutating resources that already exist.
type Provisioner struct {
	api    CloudAPI
	logger *slog.Logger
}

// NewProvisioner creates a provisioner over the given cloud API.
func NewProvisioner(api CloudAPI, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		api:    api,
		logger: logger.With("component", "provisioner"),
	}
}

// Ensure makes the described resource exist. If a resource matching the
// identity tuple is already present it is returned unchanged; live
// resources are never mutated on re-run. Any failure other than
// "already exists" is fatal to the caller's run.
func (p *Provisioner) Ensure(ctx context.Context, desc domain.ResourceDescriptor, spec ResourceSpec) (*domain.ResourceDescriptor, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	logger := p.logger.With("kind", desc.Kind, "name", desc.Name, "region", desc.Region)

	if !spec.Upsert {
		existing, err := p.api.Probe(ctx, desc)
		if err == nil {
			existing.Status = domain.ResourceStatusExisting
			logger.Info("resource already exists, reusing", "provider_id", existing.ProviderID)
			return existing, nil
		}
		if !errors.Is(err, domain.ErrResourceNotFound) {
			return nil, fmt.Errorf("probe %s: %w", desc.Identity(), err)
		}
	}

	created, err := p.api.Create(ctx, desc, spec)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost a race or probe blind spot; treat as reuse.
			logger.Info("create reported already exists, reusing")
			existing, probeErr := p.api.Probe(ctx, desc)
			if probeErr != nil {
				desc.Status = domain.ResourceStatusExisting
				return &desc, nil
			}
			existing.Status = domain.ResourceStatusExisting
			return existing, nil
		}
		return nil, fmt.Errorf("create %s: %w", desc.Identity(), err)
	}

	created.Status = domain.ResourceStatusCreated
	logger.Info("resource created", "provider_id", created.ProviderID)
	return created, nil
}
