package service

import (
	"time"

	"github.com/reugn/go-quartz/quartz"
)

const (
	QUARTER_HOUR_CRON = "0 0/15 * * * *"
	DEFAULT_LOOKBACK  = 5 * time.Minute
)

// Aligner computes wall-clock aligned execution instants. Every
// installation uses the same expression so ticks line up across them.
type Aligner struct {
	trigger  *quartz.CronTrigger
	location *time.Location
	lookback time.Duration
}

func NewAligner(expression string, location *time.Location, lookback time.Duration) (*Aligner, error) {
	if location == nil {
		location = time.Local
	}
	if expression == "" {
		expression = QUARTER_HOUR_CRON
	}
	if lookback <= 0 {
		lookback = DEFAULT_LOOKBACK
	}
	trigger, err := quartz.NewCronTriggerWithLoc(expression, location)
	if err != nil {
		return nil, err
	}
	return &Aligner{
		trigger:  trigger,
		location: location,
		lookback: lookback,
	}, nil
}

// Next returns the first boundary strictly after now.
func (a *Aligner) Next(now time.Time) time.Time {
	next, err := a.trigger.NextFireTime(now.UnixNano())
	if err != nil {
		return a.fallbackNext(now)
	}
	t := time.Unix(0, next).In(a.location)
	if !t.After(now) {
		return a.fallbackNext(now)
	}
	return t
}

// Delay is how long the timer must wait from now until Next(now).
func (a *Aligner) Delay(now time.Time) time.Duration {
	return a.Next(now).Sub(now)
}

// Window is the decision lookback window ending at now.
func (a *Aligner) Window(now time.Time) (time.Time, time.Time) {
	return now.Add(-a.lookback), now
}

func (a *Aligner) Lookback() time.Duration {
	return a.lookback
}

func (a *Aligner) fallbackNext(now time.Time) time.Time {
	return now.In(a.location).Truncate(15 * time.Minute).Add(15 * time.Minute)
}
