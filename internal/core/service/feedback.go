package service

import (
	"context"
	"sync"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/core/port"
	"github.com/berfenger/battexec/internal/observability/metrics"
	"go.uber.org/zap"
)

const DEFAULT_FEEDBACK_TIMEOUT = 10 * time.Second

// FeedbackReporter sends execution feedback upstream without blocking the
// caller. A failed report is retried once, then logged and dropped.
type FeedbackReporter struct {
	installationId string
	sink           port.FeedbackSink
	timeout        time.Duration
	logger         *zap.Logger
	wg             sync.WaitGroup
}

func NewFeedbackReporter(installationId string, sink port.FeedbackSink, timeout time.Duration, logger *zap.Logger) *FeedbackReporter {
	if timeout <= 0 {
		timeout = DEFAULT_FEEDBACK_TIMEOUT
	}
	return &FeedbackReporter{
		installationId: installationId,
		sink:           sink,
		timeout:        timeout,
		logger:         logger,
	}
}

// Report returns false when the record is not reportable (skipped ticks,
// ticks without a decision).
func (r *FeedbackReporter) Report(record domain.ExecutionRecord) bool {
	if r.sink == nil || !record.Reportable() {
		return false
	}
	feedback := domain.FeedbackFromRecord(record)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.send(feedback)
	}()
	return true
}

func (r *FeedbackReporter) send(feedback domain.Feedback) {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err = r.sink.SendFeedback(ctx, feedback)
		cancel()
		metrics.IncFeedback(r.installationId, err)
		if err == nil {
			r.logger.Debug("feedback: reported",
				zap.Time("target", feedback.TargetTimestamp),
				zap.String("outcome", string(feedback.OverallOutcome)))
			return
		}
		r.logger.Warn("feedback: report failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	r.logger.Error("feedback: dropping report",
		zap.Time("target", feedback.TargetTimestamp),
		zap.String("outcome", string(feedback.OverallOutcome)),
		zap.Error(err))
}

// Wait blocks until in-flight reports finish. Used on shutdown and in tests.
func (r *FeedbackReporter) Wait() {
	r.wg.Wait()
}
