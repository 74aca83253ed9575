// Package verify gates pipeline success on the deployed service reporting
// healthy within a bounded window.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

// =============================================================================
// Verifier
// =============================================================================

// Verifier polls the service health endpoint at a fixed interval. No
// backoff: the window is short and the service either becomes ready
// quickly or not at all.
type Verifier struct {
	client *http.Client
	logger *slog.Logger
}

// NewVerifier creates a verifier. pollTimeout bounds each individual
// request; zero means 5 seconds.
func NewVerifier(pollTimeout time.Duration, logger *slog.Logger) *Verifier {
	if pollTimeout == 0 {
		pollTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		client: &http.Client{Timeout: pollTimeout},
		logger: logger.With("component", "verifier"),
	}
}

// healthPayload is the expected body shape of the service health endpoint.
type healthPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// WaitHealthy polls endpoint until the service reports healthy or the
// window closes. The first 2xx response whose body reports status OK ends
// the wait successfully; exhausting the timeout returns ErrHealthTimeout
// with the last observed report. A timeout does not roll anything back.
func (v *Verifier) WaitHealthy(ctx context.Context, endpoint string, timeout, interval time.Duration) (*domain.HealthReport, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := domain.HealthReport{Status: domain.HealthStatusUnknown, Timestamp: time.Now()}

	poll := func() *domain.HealthReport {
		report := v.poll(ctx, endpoint)
		last = report
		if report.Healthy() {
			v.logger.Info("service healthy", "service", report.Service, "endpoint", endpoint)
			return &report
		}
		v.logger.Debug("service not healthy yet", "status", report.Status)
		return nil
	}

	if report := poll(); report != nil {
		return report, nil
	}

	for {
		select {
		case <-ctx.Done():
			return &last, ctx.Err()
		case <-deadline.C:
			return &last, fmt.Errorf("%w: after %v", domain.ErrHealthTimeout, timeout)
		case <-ticker.C:
			if report := poll(); report != nil {
				return report, nil
			}
		}
	}
}

// poll performs one bounded health request and classifies the outcome.
// Any transport error, non-2xx status or malformed body is unhealthy.
func (v *Verifier) poll(ctx context.Context, endpoint string) domain.HealthReport {
	report := domain.HealthReport{Status: domain.HealthStatusUnknown, Timestamp: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return report
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return report
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		report.Status = domain.HealthStatusUnhealthy
		return report
	}

	// Only an explicit OK counts. A 2xx carrying any other status is the
	// service saying it is up but not ready.
	var payload healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Status != "OK" {
		report.Status = domain.HealthStatusUnhealthy
		return report
	}

	report.Status = domain.HealthStatusHealthy
	report.Service = payload.Service
	if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
		report.Timestamp = ts
	}
	return report
}
