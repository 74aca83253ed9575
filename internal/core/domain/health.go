package domain

import "time"

// =============================================================================
// Health Report
// =============================================================================

// HealthStatus is the verifier's classification of a single poll.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthReport is the result of one health poll. Ephemeral, not persisted.
type HealthReport struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Service   string       `json:"service,omitempty"`
}

// Healthy reports whether the poll found the service healthy.
func (r HealthReport) Healthy() bool {
	return r.Status == HealthStatusHealthy
}
