package domain

import "time"

type Health string

const (
	HEALTH_HEALTHY       Health = "healthy"
	HEALTH_DEGRADED      Health = "degraded"
	HEALTH_MISCONFIGURED Health = "misconfigured"
)

type InstallationStatus struct {
	InstallationID      string           `json:"installation_id"`
	Dialect             Dialect          `json:"dialect,omitempty"`
	OptimizationEnabled bool             `json:"optimization_enabled"`
	DryRun              bool             `json:"dry_run"`
	Health              Health           `json:"health"`
	NeedsAttention      bool             `json:"needs_attention"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	Diagnostic          string           `json:"diagnostic,omitempty"`
	State               string           `json:"state"`
	NextExecution       *time.Time       `json:"next_execution,omitempty"`
	LastExecution       *ExecutionRecord `json:"last_execution,omitempty"`
}
