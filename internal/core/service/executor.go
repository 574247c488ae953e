package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/core/port"
	"github.com/berfenger/battexec/internal/observability/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DETAIL_DISABLED          = "optimization disabled"
	DETAIL_UPSTREAM_DISABLED = "automatic control disabled upstream"
	DETAIL_NO_DECISION       = "no eligible decision"
	DETAIL_ALREADY_EXECUTED  = "decision already executed"
	DETAIL_DRY_RUN           = "dry run"
	DETAIL_NO_PLAN           = "no usable control plan"
)

// Installation is the explicit per-installation context threaded through
// the tick: identity, cached profile, feed handle and device access.
type Installation struct {
	Profile    domain.DeviceProfile
	Controller port.DeviceController
	Feed       port.DecisionFeed
	Commander  port.DeviceCommander
	DryRun     bool
}

// TickExecutor runs one tick: refresh the plan, pick the decision for the
// current slot, clamp, map and dispatch it, then read back live values.
// Calls must be serialized by the owner.
type TickExecutor struct {
	inst    Installation
	book    *DecisionBook
	aligner *Aligner
	clamp   *SafetyClamp
	runner  *SequenceRunner
	logger  *zap.Logger
	clock   func() time.Time
}

type ExecutorOptions struct {
	Autonomy    time.Duration
	StepTimeout time.Duration
	SettleDelay time.Duration
}

func NewTickExecutor(inst Installation, aligner *Aligner, opts ExecutorOptions, logger *zap.Logger) *TickExecutor {
	id := inst.Profile.InstallationID
	return &TickExecutor{
		inst:    inst,
		book:    NewDecisionBook(opts.Autonomy, logger),
		aligner: aligner,
		clamp:   NewSafetyClamp(logger),
		runner:  NewSequenceRunner(id, inst.Commander, opts.StepTimeout, opts.SettleDelay, logger),
		logger:  logger,
		clock:   time.Now,
	}
}

// WithClock replaces the wall clock. Tests only.
func (e *TickExecutor) WithClock(clock func() time.Time) *TickExecutor {
	e.clock = clock
	return e
}

func (e *TickExecutor) Book() *DecisionBook {
	return e.book
}

// Execute never returns an error: every failure ends up in the record.
func (e *TickExecutor) Execute(ctx context.Context, trigger domain.TickTrigger, enabled bool) domain.ExecutionRecord {
	start := time.Now()
	record := e.execute(ctx, trigger, enabled)
	metrics.ObserveTick(record.InstallationID, string(trigger), string(record.Outcome), time.Since(start))
	return record
}

func (e *TickExecutor) execute(ctx context.Context, trigger domain.TickTrigger, enabled bool) domain.ExecutionRecord {
	now := e.clock()
	record := domain.ExecutionRecord{
		ID:             uuid.NewString(),
		InstallationID: e.inst.Profile.InstallationID,
		Trigger:        trigger,
		DispatchedAt:   now,
	}

	if !enabled {
		return skipped(record, DETAIL_DISABLED)
	}

	var notes []string
	if err := e.refresh(ctx, now); err != nil {
		if !e.book.Usable(now) {
			record.Outcome = domain.OUTCOME_FAILED
			record.Detail = fmt.Sprintf("%s: %v", DETAIL_NO_PLAN, err)
			return record
		}
		notes = append(notes, fmt.Sprintf("using plan fetched at %s: %v", e.book.LastFetch().Format(time.RFC3339), err))
	}
	if !e.book.AutomaticControlEnabled() {
		return skipped(record, DETAIL_UPSTREAM_DISABLED)
	}

	from, to := e.aligner.Window(now)
	decision, ok := e.book.Select(from, to)
	if !ok {
		return skipped(record, DETAIL_NO_DECISION)
	}
	ref := decision.Ref()
	record.Decision = decision
	record.DecisionRef = &ref
	record.Mode = decision.Mode
	record.RequestedKw = decision.PowerKw

	if err := e.book.Current(ref); err != nil {
		return skipped(record, err.Error())
	}
	// a manual trigger re-applies the current decision on purpose
	if trigger != domain.TRIGGER_MANUAL && e.book.Executed(ref) {
		return skipped(record, DETAIL_ALREADY_EXECUTED)
	}

	clamped := e.clamp.Clamp(*decision, e.inst.Profile)
	record.DispatchedKw = clamped.PowerKw
	record.Clamped = clamped.Clamped
	if clamped.Clamped {
		metrics.IncClamp(record.InstallationID)
	}

	commands, err := MapDecision(e.inst.Controller, decision.Mode, clamped.PowerKw)
	if err != nil {
		record.Outcome = domain.OUTCOME_FAILED
		record.Detail = err.Error()
		return record
	}

	if e.inst.DryRun {
		for _, cmd := range commands {
			e.logger.Info("executor: dry run command", zap.String("command", cmd.String()))
		}
		return skipped(record, DETAIL_DRY_RUN)
	}

	record.Steps = e.runner.Run(ctx, commands, e.inst.Controller.NeedsSettling())
	record.Outcome = OverallOutcome(record.Steps)
	if record.Outcome != domain.OUTCOME_FAILED {
		e.book.MarkExecuted(ref)
	}
	if failed := lastFailed(record.Steps); failed != nil {
		notes = append(notes, failed.Detail)
	}

	record.ActualPowerKw = e.readActualPower(ctx)
	record.ActualSoc = e.readActualSoc(ctx)
	record.Detail = strings.Join(notes, "; ")
	return record
}

// refresh always pulls the feed before dispatch instead of relying on the
// cached plan.
func (e *TickExecutor) refresh(ctx context.Context, now time.Time) error {
	plan, err := e.inst.Feed.FetchPlan(ctx)
	metrics.IncFeedFetch(e.inst.Profile.InstallationID, err)
	if err != nil {
		var connErr *domain.ConnectivityError
		if errors.As(err, &connErr) {
			e.logger.Warn("executor: decision feed unreachable", zap.Error(err))
		} else {
			e.logger.Error("executor: decision feed failed", zap.Error(err))
		}
		return err
	}
	if plan.FetchedAt.IsZero() {
		plan.FetchedAt = now
	}
	if stale := e.book.Merge(plan); stale > 0 {
		e.logger.Info("executor: superseded decisions ignored", zap.Int("count", stale))
	}
	return nil
}

// readActualPower returns the live battery power magnitude in kW, bounded
// to [0, maxPowerKw]. nil when no reading binding exists or it fails.
func (e *TickExecutor) readActualPower(ctx context.Context) *float64 {
	value, ok := e.readFloat(ctx, domain.ROLE_POWER_READING)
	if !ok {
		return nil
	}
	kw := math.Abs(value)
	if !strings.EqualFold(e.inst.Profile.PowerReadingUnit, domain.POWER_UNIT_KW) {
		kw = WattsToKw(kw)
	}
	kw = ClampPower(kw, e.inst.Profile.MaxPowerKw)
	return &kw
}

// readActualSoc returns the state of charge as a fraction in [0, 1].
func (e *TickExecutor) readActualSoc(ctx context.Context) *float64 {
	value, ok := e.readFloat(ctx, domain.ROLE_SOC_READING)
	if !ok {
		return nil
	}
	soc := math.Min(math.Max(value/100, 0), 1)
	return &soc
}

func (e *TickExecutor) readFloat(ctx context.Context, role domain.Role) (float64, bool) {
	handle, ok := e.inst.Profile.Binding(role)
	if !ok {
		return 0, false
	}
	raw, err := e.inst.Commander.ReadState(ctx, handle)
	if err != nil {
		e.logger.Warn("executor: reading failed", zap.String("role", string(role)), zap.Error(err))
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		e.logger.Warn("executor: unparsable reading", zap.String("role", string(role)), zap.String("value", raw))
		return 0, false
	}
	return value, true
}

func skipped(record domain.ExecutionRecord, detail string) domain.ExecutionRecord {
	record.Outcome = domain.OUTCOME_SKIPPED
	record.Detail = detail
	return record
}

func lastFailed(steps []domain.StepRecord) *domain.StepRecord {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Outcome == domain.STEP_FAILED {
			return &steps[i]
		}
	}
	return nil
}
