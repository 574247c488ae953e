package domain

import (
	"time"
)

type StepOutcome string

const (
	STEP_OK     StepOutcome = "ok"
	STEP_FAILED StepOutcome = "failed"
)

type Outcome string

const (
	OUTCOME_SUCCESS         Outcome = "success"
	OUTCOME_PARTIAL_FAILURE Outcome = "partial_failure"
	OUTCOME_FAILED          Outcome = "failed"
	OUTCOME_SKIPPED         Outcome = "skipped"
)

type TickTrigger string

const (
	TRIGGER_SCHEDULE TickTrigger = "schedule"
	TRIGGER_MANUAL   TickTrigger = "manual"
)

type StepRecord struct {
	Name     string        `json:"name"`
	Outcome  StepOutcome   `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// ExecutionRecord is the immutable result of one tick.
type ExecutionRecord struct {
	ID             string           `json:"id"`
	InstallationID string           `json:"installation_id"`
	Trigger        TickTrigger      `json:"trigger"`
	Decision       *ControlDecision `json:"-"`
	DecisionRef    *DecisionRef     `json:"decision_ref,omitempty"`
	Mode           Mode             `json:"mode,omitempty"`
	RequestedKw    float64          `json:"requested_power_kw"`
	DispatchedKw   float64          `json:"dispatched_power_kw"`
	Clamped        bool             `json:"clamped"`
	DispatchedAt   time.Time        `json:"dispatched_at"`
	Steps          []StepRecord     `json:"steps"`
	Outcome        Outcome          `json:"outcome"`
	Detail         string           `json:"detail,omitempty"`
	ActualPowerKw  *float64         `json:"actual_power_kw,omitempty"`
	ActualSoc      *float64         `json:"actual_soc,omitempty"`
}

func (r ExecutionRecord) Reportable() bool {
	return r.Outcome != OUTCOME_SKIPPED && r.DecisionRef != nil
}

// Feedback is what goes upstream after a non-skipped tick.
type Feedback struct {
	DecisionRef      DecisionRef `json:"decision_ref"`
	TargetTimestamp  time.Time   `json:"target_timestamp"`
	ExecutedAt       time.Time   `json:"executed_at"`
	Mode             Mode        `json:"mode"`
	RequestedPowerKw float64     `json:"requested_power_kw"`
	OverallOutcome   Outcome     `json:"overall_outcome"`
	ActualPowerKw    *float64    `json:"actual_power,omitempty"`
	ActualSoc        *float64    `json:"actual_soc,omitempty"`
}

func FeedbackFromRecord(r ExecutionRecord) Feedback {
	return Feedback{
		DecisionRef:      *r.DecisionRef,
		TargetTimestamp:  r.DecisionRef.StartTime,
		ExecutedAt:       r.DispatchedAt,
		Mode:             r.Mode,
		RequestedPowerKw: r.RequestedKw,
		OverallOutcome:   r.Outcome,
		ActualPowerKw:    r.ActualPowerKw,
		ActualSoc:        r.ActualSoc,
	}
}
