package domain

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	MODE_FORCE_CHARGE    Mode = "force_charge"
	MODE_SELF_USE        Mode = "self_use"
	MODE_BACKUP          Mode = "backup"
	MODE_FORCE_DISCHARGE Mode = "force_discharge"
)

var AllModes = []Mode{MODE_FORCE_CHARGE, MODE_SELF_USE, MODE_BACKUP, MODE_FORCE_DISCHARGE}

// ParseMode accepts the feed's control_action values. Labels are matched
// case-insensitively and "-"/" " are treated as "_".
func ParseMode(value string) (Mode, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	for _, m := range AllModes {
		if string(m) == normalized {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown control mode %q", value)
}

// ControlDecision is one entry of the upstream control plan.
type ControlDecision struct {
	StartTime   time.Time
	Mode        Mode
	PowerKw     float64
	SourceRunID int64
}

func (d ControlDecision) Ref() DecisionRef {
	return DecisionRef{
		StartTime:   d.StartTime,
		SourceRunID: d.SourceRunID,
	}
}

func (d ControlDecision) String() string {
	return fmt.Sprintf("%s %s %.3fkW run=%d", d.StartTime.Format(time.RFC3339), d.Mode, d.PowerKw, d.SourceRunID)
}

type DecisionRef struct {
	StartTime   time.Time `json:"target_timestamp"`
	SourceRunID int64     `json:"source_run_id"`
}

// Plan is the result of one decision feed pull.
type Plan struct {
	Decisions []ControlDecision
	// nil when the feed has no upstream switch at all
	AutomaticControlEnabled *bool
	FetchedAt               time.Time
}
