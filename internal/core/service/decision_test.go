package service

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decisionAt(h, m int, run int64, mode domain.Mode, kw float64) domain.ControlDecision {
	return domain.ControlDecision{
		StartTime:   at(h, m, 0),
		Mode:        mode,
		PowerKw:     kw,
		SourceRunID: run,
	}
}

func TestNewestRunWinsRegardlessOfOrder(t *testing.T) {
	older := decisionAt(10, 45, 5, domain.MODE_FORCE_CHARGE, 1)
	newer := decisionAt(10, 45, 7, domain.MODE_SELF_USE, 0)

	for _, order := range [][]domain.ControlDecision{{older, newer}, {newer, older}} {
		book := NewDecisionBook(0, nil)
		for _, d := range order {
			book.Merge(&domain.Plan{Decisions: []domain.ControlDecision{d}, FetchedAt: at(10, 44, 0)})
		}
		d, ok := book.Select(at(10, 42, 0), at(10, 47, 0))
		require.True(t, ok)
		assert.Equal(t, int64(7), d.SourceRunID)
		assert.Equal(t, domain.MODE_SELF_USE, d.Mode)
	}
}

func TestOfferOlderRunIsStale(t *testing.T) {
	book := NewDecisionBook(0, nil)
	require.NoError(t, book.Offer(decisionAt(10, 45, 7, domain.MODE_SELF_USE, 0)))

	err := book.Offer(decisionAt(10, 45, 5, domain.MODE_FORCE_CHARGE, 1))
	var stale *domain.StaleDecisionError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, int64(7), stale.Superseded)

	assert.Error(t, book.Current(domain.DecisionRef{StartTime: at(10, 45, 0), SourceRunID: 5}))
	assert.NoError(t, book.Current(domain.DecisionRef{StartTime: at(10, 45, 0), SourceRunID: 7}))
}

func TestSelectReturnsLatestInWindow(t *testing.T) {
	book := NewDecisionBook(0, nil)
	prior := decisionAt(10, 30, 3, domain.MODE_FORCE_CHARGE, 2)
	current := decisionAt(10, 45, 3, domain.MODE_BACKUP, 0)
	future := decisionAt(11, 0, 3, domain.MODE_SELF_USE, 0)
	book.Merge(&domain.Plan{Decisions: []domain.ControlDecision{prior, current, future}, FetchedAt: at(10, 47, 0)})
	book.MarkExecuted(prior.Ref())

	d, ok := book.Select(at(10, 42, 0), at(10, 47, 0))
	require.True(t, ok)
	assert.Equal(t, current.Ref(), d.Ref())

	_, ok = book.Select(at(10, 46, 0), at(10, 47, 0))
	assert.False(t, ok)
}

func TestSelectNeverFallsBackToOvertakenDecision(t *testing.T) {
	book := NewDecisionBook(0, nil)
	earlier := decisionAt(10, 41, 3, domain.MODE_FORCE_CHARGE, 5)
	latest := decisionAt(10, 45, 3, domain.MODE_SELF_USE, 0)
	book.Merge(&domain.Plan{Decisions: []domain.ControlDecision{earlier, latest}, FetchedAt: at(10, 45, 0)})
	book.MarkExecuted(latest.Ref())

	// wide window, latest executed, earlier one untouched
	d, ok := book.Select(at(10, 0, 0), at(10, 46, 0))
	require.True(t, ok)
	assert.Equal(t, latest.Ref(), d.Ref())
	assert.True(t, book.Executed(d.Ref()))
}

func TestNewerRunReopensExecutedSlot(t *testing.T) {
	book := NewDecisionBook(0, nil)
	first := decisionAt(10, 45, 3, domain.MODE_FORCE_CHARGE, 2)
	book.Merge(&domain.Plan{Decisions: []domain.ControlDecision{first}, FetchedAt: at(10, 45, 0)})
	book.MarkExecuted(first.Ref())

	revised := decisionAt(10, 45, 4, domain.MODE_FORCE_CHARGE, 1.5)
	book.Merge(&domain.Plan{Decisions: []domain.ControlDecision{revised}, FetchedAt: at(10, 46, 0)})

	d, ok := book.Select(at(10, 42, 0), at(10, 47, 0))
	require.True(t, ok)
	assert.Equal(t, int64(4), d.SourceRunID)
	assert.True(t, book.Executed(first.Ref()))
	assert.False(t, book.Executed(revised.Ref()))
}

func TestAutonomyPeriod(t *testing.T) {
	book := NewDecisionBook(24*time.Hour, nil)
	assert.False(t, book.Usable(at(10, 0, 0)))

	book.Merge(&domain.Plan{FetchedAt: at(10, 0, 0)})
	assert.True(t, book.Usable(at(10, 0, 0).Add(23*time.Hour)))
	assert.False(t, book.Usable(at(10, 0, 0).Add(25*time.Hour)))
}

func TestAutomaticControlFlag(t *testing.T) {
	book := NewDecisionBook(0, nil)
	book.Merge(&domain.Plan{FetchedAt: at(10, 0, 0)})
	assert.True(t, book.AutomaticControlEnabled())

	off := false
	book.Merge(&domain.Plan{FetchedAt: at(10, 1, 0), AutomaticControlEnabled: &off})
	assert.False(t, book.AutomaticControlEnabled())
}

func TestPruneDropsOldSlots(t *testing.T) {
	book := NewDecisionBook(time.Hour, nil)
	book.Merge(&domain.Plan{Decisions: []domain.ControlDecision{decisionAt(1, 0, 1, domain.MODE_SELF_USE, 0)}, FetchedAt: at(1, 0, 0)})
	assert.Equal(t, 1, book.Len())

	book.Merge(&domain.Plan{FetchedAt: at(10, 0, 0)})
	assert.Equal(t, 0, book.Len())
}
