package service

import (
	"testing"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestHealthEscalatesAfterThreshold(t *testing.T) {
	h := NewHealthTracker(3)

	h.Record(domain.OUTCOME_FAILED)
	h.Record(domain.OUTCOME_PARTIAL_FAILURE)
	assert.Equal(t, domain.HEALTH_HEALTHY, h.Health())
	assert.False(t, h.NeedsAttention())

	h.Record(domain.OUTCOME_SKIPPED)
	assert.Equal(t, 2, h.ConsecutiveFailures())

	h.Record(domain.OUTCOME_FAILED)
	assert.Equal(t, domain.HEALTH_DEGRADED, h.Health())
	assert.True(t, h.NeedsAttention())

	h.Record(domain.OUTCOME_SUCCESS)
	assert.Equal(t, domain.HEALTH_HEALTHY, h.Health())
	assert.Equal(t, 0, h.ConsecutiveFailures())
}

func TestHealthSkippedNeverDegrades(t *testing.T) {
	h := NewHealthTracker(0)
	for i := 0; i < 10; i++ {
		h.Record(domain.OUTCOME_SKIPPED)
	}
	assert.Equal(t, domain.HEALTH_HEALTHY, h.Health())
}

func TestHealthMisconfigured(t *testing.T) {
	h := NewHealthTracker(3)
	h.Misconfigured("missing bindings mode_select")
	assert.Equal(t, domain.HEALTH_MISCONFIGURED, h.Health())
	assert.True(t, h.NeedsAttention())
	assert.Equal(t, "missing bindings mode_select", h.Diagnostic())
}
