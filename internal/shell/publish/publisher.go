// Package publish builds the service image and pushes it to the registry
// under a content-addressable tag.
package publish

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

// =============================================================================
// Types
// =============================================================================

// BuildInput describes one build of the fixed multi-stage recipe.
type BuildInput struct {
	// ContextDir is the source tree root (owned by the publisher for the
	// duration of the build).
	ContextDir string

	// Dockerfile is the recipe path relative to the context. Default
	// "Dockerfile".
	Dockerfile string

	// Revision is the triggering revision identifier (commit hash). It
	// becomes the immutable image tag, so re-publishing the same revision
	// produces the same tag.
	Revision string

	// Registry is the repository URI to push to.
	Registry string
}

// RegistryAuth carries the short-lived registry credentials.
type RegistryAuth struct {
	Username string
	Password string
}

// imageAPI is the slice of the docker client the publisher uses.
type imageAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
}

// =============================================================================
// Publisher
// =============================================================================

// Publisher builds and publishes service images.
type Publisher struct {
	docker imageAPI
	logger *slog.Logger
}

// NewPublisher creates a publisher over the given docker client.
func NewPublisher(docker imageAPI, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		docker: docker,
		logger: logger.With("component", "publisher"),
	}
}

// Publish builds the image and pushes it under the revision tag. A build
// failure or a failed registry handshake is fatal to the pipeline run.
func (p *Publisher) Publish(ctx context.Context, build BuildInput, auth RegistryAuth) (*domain.ArtifactReference, error) {
	ref, err := domain.NewArtifactReference(build.Registry, build.Revision)
	if err != nil {
		return nil, err
	}

	if err := p.Build(ctx, build, ref.Image()); err != nil {
		return nil, err
	}

	digest, err := p.push(ctx, ref.Image(), auth)
	if err != nil {
		return nil, err
	}
	ref.Digest = digest

	p.logger.Info("image published", "image", ref.Image(), "digest", digest)
	return ref, nil
}

// Build builds the image from the fixed recipe and tags it. Exposed
// separately for the local smoke test, which builds without pushing.
func (p *Publisher) Build(ctx context.Context, build BuildInput, tag string) error {
	dockerfile := build.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	buildCtx, err := tarBuildContext(build.ContextDir)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBuildFailed, err)
	}

	p.logger.Info("building image", "tag", tag, "context", build.ContextDir)

	resp, err := p.docker.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBuildFailed, err)
	}
	defer resp.Body.Close()

	if _, err := drainStream(resp.Body); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBuildFailed, err)
	}
	return nil
}

func (p *Publisher) push(ctx context.Context, ref string, auth RegistryAuth) (string, error) {
	p.logger.Info("pushing image", "image", ref)

	body, err := p.docker.ImagePush(ctx, ref, image.PushOptions{
		RegistryAuth: encodeAuth(auth),
	})
	if err != nil {
		return "", fmt.Errorf("push %s: %w", ref, err)
	}
	defer body.Close()

	digest, err := drainStream(body)
	if err != nil {
		return "", fmt.Errorf("push %s: %w", ref, err)
	}
	return digest, nil
}

// =============================================================================
// Stream Handling
// =============================================================================

// streamRecord is one JSON line of the docker build/push progress stream.
type streamRecord struct {
	Stream string `json:"stream,omitempty"`
	Error  string `json:"error,omitempty"`
	Aux    *struct {
		Tag    string `json:"Tag,omitempty"`
		Digest string `json:"Digest,omitempty"`
	} `json:"aux,omitempty"`
}

// drainStream consumes a docker progress stream, failing on the first
// error record and returning the pushed digest when the daemon reports one.
func drainStream(r io.Reader) (string, error) {
	var digest string
	dec := json.NewDecoder(r)
	for {
		var rec streamRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return digest, nil
			}
			return "", fmt.Errorf("decode progress stream: %w", err)
		}
		if rec.Error != "" {
			return "", fmt.Errorf("%s", rec.Error)
		}
		if rec.Aux != nil && rec.Aux.Digest != "" {
			digest = rec.Aux.Digest
		}
	}
}

// encodeAuth encodes credentials the way the docker API expects them.
func encodeAuth(auth RegistryAuth) string {
	encoded, err := json.Marshal(registry.AuthConfig{
		Username: auth.Username,
		Password: auth.Password,
	})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(encoded)
}
