package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Artifact Reference
// =============================================================================

// ArtifactReference is an immutable pointer to a built, published container
// image. Produced exactly once per build, consumed exactly once per deploy.
type ArtifactReference struct {
	// Registry is the repository URI without a tag,
	// e.g. 123456789.dkr.ecr.eu-west-1.amazonaws.com/bike-inventory-api.
	Registry string `json:"registry"`

	// Tag is the triggering revision identifier (commit hash). Tags are
	// immutable: re-publishing the same revision produces the same tag.
	Tag string `json:"tag"`

	// Digest is the content digest reported by the registry on push.
	Digest string `json:"digest,omitempty"`

	BuiltAt time.Time `json:"built_at"`
}

// NewArtifactReference creates a validated artifact reference.
func NewArtifactReference(registry, tag string) (*ArtifactReference, error) {
	if registry == "" {
		return nil, ErrRegistryRequired
	}
	if tag == "" {
		return nil, ErrRevisionRequired
	}
	return &ArtifactReference{
		Registry: registry,
		Tag:      tag,
		BuiltAt:  time.Now(),
	}, nil
}

// Image returns the full pullable image reference, always by exact tag.
func (a ArtifactReference) Image() string {
	return fmt.Sprintf("%s:%s", a.Registry, a.Tag)
}
