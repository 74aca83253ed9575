// Package store persists pipeline run records and deployment target state.
package store

import (
	"context"
	"errors"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNotFound         = errors.New("record not found")
	ErrConnectionFailed = errors.New("database connection failed")
	ErrMigrationFailed  = errors.New("database migration failed")
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for pipeline records.
type Store interface {
	// Pipeline run operations
	CreateRun(ctx context.Context, run *domain.PipelineRun) error
	UpdateRun(ctx context.Context, run *domain.PipelineRun) error
	GetRun(ctx context.Context, id string) (*domain.PipelineRun, error)
	ListRuns(ctx context.Context, limit int) ([]domain.PipelineRun, error)

	// Deployment target operations
	SaveTarget(ctx context.Context, target *domain.DeploymentTarget) error
	GetTarget(ctx context.Context, name string) (*domain.DeploymentTarget, error)
	RecordRunningTag(ctx context.Context, targetName, tag string) error

	Close() error
}
