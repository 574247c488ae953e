package service

import (
	"github.com/berfenger/battexec/internal/core/domain"
)

const DEFAULT_FAILURE_THRESHOLD = 3

// HealthTracker turns tick outcomes into the coarse health indicator.
// Skipped ticks are "nothing to do" and never move it.
type HealthTracker struct {
	threshold     int
	consecutive   int
	misconfigured string
}

func NewHealthTracker(threshold int) *HealthTracker {
	if threshold <= 0 {
		threshold = DEFAULT_FAILURE_THRESHOLD
	}
	return &HealthTracker{threshold: threshold}
}

func (h *HealthTracker) Record(outcome domain.Outcome) {
	switch outcome {
	case domain.OUTCOME_SUCCESS:
		h.consecutive = 0
	case domain.OUTCOME_FAILED, domain.OUTCOME_PARTIAL_FAILURE:
		h.consecutive++
	}
}

// Misconfigured pins the tracker to the misconfigured state with the given
// diagnostic.
func (h *HealthTracker) Misconfigured(diagnostic string) {
	h.misconfigured = diagnostic
}

func (h *HealthTracker) ConsecutiveFailures() int {
	return h.consecutive
}

func (h *HealthTracker) NeedsAttention() bool {
	return h.misconfigured != "" || h.consecutive >= h.threshold
}

func (h *HealthTracker) Health() domain.Health {
	if h.misconfigured != "" {
		return domain.HEALTH_MISCONFIGURED
	}
	if h.consecutive >= h.threshold {
		return domain.HEALTH_DEGRADED
	}
	return domain.HEALTH_HEALTHY
}

func (h *HealthTracker) Diagnostic() string {
	return h.misconfigured
}
