package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignerNextQuarterHour(t *testing.T) {
	a, err := NewAligner(QUARTER_HOUR_CRON, time.UTC, 5*time.Minute)
	require.NoError(t, err)

	cases := []struct {
		now  time.Time
		next time.Time
	}{
		{at(10, 47, 12), at(11, 0, 0)},
		{at(10, 0, 1), at(10, 15, 0)},
		{at(10, 29, 59), at(10, 30, 0)},
		{at(23, 50, 0), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		assert.True(t, c.next.Equal(a.Next(c.now)), "next of %s", c.now)
	}
}

func TestAlignerNextIsAlwaysAfterNow(t *testing.T) {
	a, err := NewAligner("", time.UTC, 0)
	require.NoError(t, err)

	now := at(10, 7, 30)
	for i := 0; i < 10; i++ {
		next := a.Next(now)
		assert.True(t, next.After(now))
		assert.Equal(t, 0, next.Minute()%15)
		assert.Equal(t, 0, next.Second())
		now = next.Add(time.Second)
	}
}

func TestAlignerWindow(t *testing.T) {
	a, err := NewAligner("", time.UTC, 0)
	require.NoError(t, err)

	from, to := a.Window(at(10, 47, 0))
	assert.Equal(t, at(10, 42, 0), from)
	assert.Equal(t, at(10, 47, 0), to)
	assert.Equal(t, 13*time.Minute, a.Delay(at(10, 47, 0)))
}

func TestAlignerInvalidExpression(t *testing.T) {
	_, err := NewAligner("not a cron", time.UTC, 0)
	assert.Error(t, err)
}

func at(h, m, s int) time.Time {
	return time.Date(2024, 5, 1, h, m, s, 0, time.UTC)
}
