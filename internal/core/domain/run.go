package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Pipeline Run
// =============================================================================

// RunStatus tracks a pipeline run through its stages.
type RunStatus string

const (
	RunStatusStarted   RunStatus = "started"
	RunStatusTested    RunStatus = "tested"
	RunStatusPublished RunStatus = "published"
	RunStatusDeployed  RunStatus = "deployed"
	RunStatusVerified  RunStatus = "verified"
	RunStatusFailed    RunStatus = "failed"
)

// PipelineRun records one end-to-end pipeline execution for auditing.
type PipelineRun struct {
	ID         string     `json:"id"`
	Revision   string     `json:"revision"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewPipelineRun creates a run record for the given revision.
func NewPipelineRun(revision string) (*PipelineRun, error) {
	if revision == "" {
		return nil, ErrRevisionRequired
	}
	return &PipelineRun{
		ID:        "run_" + uuid.New().String()[:8],
		Revision:  revision,
		Status:    RunStatusStarted,
		StartedAt: time.Now(),
	}, nil
}

// Finish marks the run terminal with the given status.
func (r *PipelineRun) Finish(status RunStatus, err error) {
	now := time.Now()
	r.Status = status
	r.FinishedAt = &now
	if err != nil {
		r.Error = err.Error()
	}
}
