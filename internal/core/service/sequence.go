package service

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/core/port"
	"github.com/berfenger/battexec/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	DEFAULT_STEP_TIMEOUT = 10 * time.Second
	DEFAULT_SETTLE_DELAY = 5 * time.Second
	STEP_ATTEMPTS        = 2
)

// SequenceRunner issues the commands of one tick in order. Each step is
// retried once immediately and the sequence stops at the first step that
// still fails, so later steps are never attempted.
type SequenceRunner struct {
	installationId string
	commander      port.DeviceCommander
	stepTimeout    time.Duration
	settleDelay    time.Duration
	logger         *zap.Logger
}

func NewSequenceRunner(installationId string, commander port.DeviceCommander, stepTimeout, settleDelay time.Duration, logger *zap.Logger) *SequenceRunner {
	if stepTimeout <= 0 {
		stepTimeout = DEFAULT_STEP_TIMEOUT
	}
	if settleDelay < 0 {
		settleDelay = 0
	}
	return &SequenceRunner{
		installationId: installationId,
		commander:      commander,
		stepTimeout:    stepTimeout,
		settleDelay:    settleDelay,
		logger:         logger,
	}
}

// Run returns one StepRecord per attempted command. When settle is set the
// runner waits settleDelay between steps; the wait honours ctx.
func (r *SequenceRunner) Run(ctx context.Context, commands []domain.Command, settle bool) []domain.StepRecord {
	records := make([]domain.StepRecord, 0, len(commands))
	for i, cmd := range commands {
		if i > 0 && settle && r.settleDelay > 0 {
			if err := sleepContext(ctx, r.settleDelay); err != nil {
				records = append(records, domain.StepRecord{
					Name:    cmd.Step,
					Outcome: domain.STEP_FAILED,
					Detail:  fmt.Sprintf("not attempted: %v", err),
				})
				return records
			}
		}
		rec := r.runStep(ctx, cmd)
		records = append(records, rec)
		if rec.Outcome != domain.STEP_OK {
			return records
		}
	}
	return records
}

func (r *SequenceRunner) runStep(ctx context.Context, cmd domain.Command) domain.StepRecord {
	start := time.Now()
	rec := domain.StepRecord{Name: cmd.Step}
	var err error
	for rec.Attempts < STEP_ATTEMPTS {
		rec.Attempts++
		err = r.issue(ctx, cmd)
		if err == nil {
			break
		}
		r.logger.Warn("sequence: step failed",
			zap.String("step", cmd.Step),
			zap.Int("attempt", rec.Attempts),
			zap.String("command", cmd.String()),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	rec.Duration = time.Since(start)
	if err != nil {
		rec.Outcome = domain.STEP_FAILED
		rec.Detail = (&domain.DeviceCommandError{Step: cmd.Step, Err: err}).Error()
	} else {
		rec.Outcome = domain.STEP_OK
		r.logger.Debug("sequence: step ok", zap.String("command", cmd.String()))
	}
	metrics.ObserveStep(r.installationId, cmd.Step, string(rec.Outcome), rec.Duration)
	return rec
}

func (r *SequenceRunner) issue(ctx context.Context, cmd domain.Command) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()
	switch cmd.Kind {
	case domain.COMMAND_WRITE:
		return r.commander.WriteValue(stepCtx, cmd.Handle, cmd.Value)
	case domain.COMMAND_INVOKE:
		return r.commander.Invoke(stepCtx, cmd.Procedure, cmd.Params)
	}
	return fmt.Errorf("unknown command kind %q", cmd.Kind)
}

// OverallOutcome folds step records into the tick outcome. A failure after
// at least one successful step is a partial failure.
func OverallOutcome(steps []domain.StepRecord) domain.Outcome {
	if len(steps) == 0 {
		return domain.OUTCOME_FAILED
	}
	succeeded := 0
	for _, s := range steps {
		if s.Outcome != domain.STEP_OK {
			if succeeded == 0 {
				return domain.OUTCOME_FAILED
			}
			return domain.OUTCOME_PARTIAL_FAILURE
		}
		succeeded++
	}
	return domain.OUTCOME_SUCCESS
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
