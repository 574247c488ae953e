package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownInstallation = errors.New("unknown installation")

// ConfigurationError means the installation cannot be controlled with the
// bindings it has. The executor does not start for it.
type ConfigurationError struct {
	InstallationID string
	Dialect        Dialect
	Missing        []Role
	Reason         string
}

func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration error for installation %q", e.InstallationID))
	if e.Dialect != "" {
		sb.WriteString(fmt.Sprintf(" (dialect %s)", e.Dialect))
	}
	if len(e.Missing) > 0 {
		roles := make([]string, len(e.Missing))
		for i, r := range e.Missing {
			roles[i] = string(r)
		}
		sb.WriteString(": missing bindings " + strings.Join(roles, ", "))
	}
	if e.Reason != "" {
		sb.WriteString(": " + e.Reason)
	}
	return sb.String()
}

// ConnectivityError wraps failures reaching the decision feed or the
// feedback endpoint.
type ConnectivityError struct {
	Endpoint string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity error on %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

type DeviceCommandError struct {
	Step string
	Err  error
}

func (e *DeviceCommandError) Error() string {
	return fmt.Sprintf("device command %s failed: %v", e.Step, e.Err)
}

func (e *DeviceCommandError) Unwrap() error {
	return e.Err
}

// StaleDecisionError is returned when a decision from an older source run is
// offered for a slot already owned by a newer run.
type StaleDecisionError struct {
	StartTime  time.Time
	Offered    int64
	Superseded int64
}

func (e *StaleDecisionError) Error() string {
	return fmt.Sprintf("stale decision for %s: run %d superseded by run %d",
		e.StartTime.Format(time.RFC3339), e.Offered, e.Superseded)
}
