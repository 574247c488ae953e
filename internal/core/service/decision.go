package service

import (
	"errors"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"go.uber.org/zap"
)

const DEFAULT_AUTONOMY = 24 * time.Hour

var ErrNoUsablePlan = errors.New("no control plan available within the autonomy period")

// DecisionBook keeps the merged control plan of one installation. Per start
// time only the decision of the highest source run is kept, and executed
// decisions are remembered so they are not dispatched twice.
//
// A book is owned by a single installation whose ticks are serialized, so
// it is not safe for concurrent use.
type DecisionBook struct {
	slots     map[int64]domain.ControlDecision
	executed  map[int64]int64
	lastGood  time.Time
	autoCtrl  *bool
	autonomy  time.Duration
	retention time.Duration
	logger    *zap.Logger
}

func NewDecisionBook(autonomy time.Duration, logger *zap.Logger) *DecisionBook {
	if autonomy <= 0 {
		autonomy = DEFAULT_AUTONOMY
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionBook{
		slots:     make(map[int64]domain.ControlDecision),
		executed:  make(map[int64]int64),
		autonomy:  autonomy,
		retention: autonomy + time.Hour,
		logger:    logger,
	}
}

// Offer adds one decision. A decision from an older run than the one
// already held for the same start time is refused with StaleDecisionError.
func (b *DecisionBook) Offer(d domain.ControlDecision) error {
	key := d.StartTime.UnixNano()
	if cur, ok := b.slots[key]; ok && cur.SourceRunID > d.SourceRunID {
		return &domain.StaleDecisionError{
			StartTime:  d.StartTime,
			Offered:    d.SourceRunID,
			Superseded: cur.SourceRunID,
		}
	}
	b.slots[key] = d
	return nil
}

// Merge applies a freshly fetched plan. Stale entries are logged and skipped.
func (b *DecisionBook) Merge(plan *domain.Plan) int {
	stale := 0
	for _, d := range plan.Decisions {
		if err := b.Offer(d); err != nil {
			stale++
			b.logger.Info("decisions: ignoring superseded decision", zap.Error(err))
		}
	}
	b.lastGood = plan.FetchedAt
	b.autoCtrl = plan.AutomaticControlEnabled
	b.prune(plan.FetchedAt)
	return stale
}

// Usable reports whether the last good plan is still inside the autonomy
// period at now.
func (b *DecisionBook) Usable(now time.Time) bool {
	return !b.lastGood.IsZero() && now.Sub(b.lastGood) <= b.autonomy
}

func (b *DecisionBook) LastFetch() time.Time {
	return b.lastGood
}

// AutomaticControlEnabled is the upstream flag of the last good plan. Only
// feeds without an upstream switch leave it unset; those are never gated.
func (b *DecisionBook) AutomaticControlEnabled() bool {
	return b.autoCtrl == nil || *b.autoCtrl
}

// Select returns the latest decision whose start time lies in [from, to].
// Older decisions in the window have been overtaken and are never returned,
// executed or not; callers check Executed on the result.
func (b *DecisionBook) Select(from, to time.Time) (*domain.ControlDecision, bool) {
	var latest *domain.ControlDecision
	for _, d := range b.slots {
		if d.StartTime.Before(from) || d.StartTime.After(to) {
			continue
		}
		if latest == nil || d.StartTime.After(latest.StartTime) {
			latest = &d
		}
	}
	return latest, latest != nil
}

// Current checks that ref is still the newest run for its slot. Called
// right before dispatch.
func (b *DecisionBook) Current(ref domain.DecisionRef) error {
	cur, ok := b.slots[ref.StartTime.UnixNano()]
	if ok && cur.SourceRunID > ref.SourceRunID {
		return &domain.StaleDecisionError{
			StartTime:  ref.StartTime,
			Offered:    ref.SourceRunID,
			Superseded: cur.SourceRunID,
		}
	}
	return nil
}

func (b *DecisionBook) MarkExecuted(ref domain.DecisionRef) {
	key := ref.StartTime.UnixNano()
	if run, ok := b.executed[key]; !ok || ref.SourceRunID > run {
		b.executed[key] = ref.SourceRunID
	}
}

func (b *DecisionBook) Executed(ref domain.DecisionRef) bool {
	run, ok := b.executed[ref.StartTime.UnixNano()]
	return ok && run >= ref.SourceRunID
}

func (b *DecisionBook) Len() int {
	return len(b.slots)
}

func (b *DecisionBook) prune(now time.Time) {
	limit := now.Add(-b.retention).UnixNano()
	for k := range b.slots {
		if k < limit {
			delete(b.slots, k)
		}
	}
	for k := range b.executed {
		if k < limit {
			delete(b.executed, k)
		}
	}
}
