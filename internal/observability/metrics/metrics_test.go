package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveBeforeInitIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		if ticksTotal == nil {
			ObserveTick("home", "schedule", "success", time.Second)
			IncFeedFetch("home", nil)
		}
	})
}

func TestCounters(t *testing.T) {
	Init()
	Init()

	ObserveTick("home", "schedule", "skipped", time.Second)
	ObserveTick("home", "schedule", "skipped", time.Second)
	IncFeedFetch("home", errors.New("boom"))
	IncClamp("home")

	assert.Equal(t, 2.0, testutil.ToFloat64(ticksTotal.WithLabelValues("home", "schedule", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(feedFetches.WithLabelValues("home", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(clampsTotal.WithLabelValues("home")))

	SetConsecutiveFailures("home", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(consecutiveFailures.WithLabelValues("home")))
}
