package port

import (
	"context"

	"github.com/berfenger/battexec/internal/core/domain"
)

// DeviceCommander is the abstract device command interface. Handles are
// capability bindings resolved at setup time.
type DeviceCommander interface {
	ReadState(ctx context.Context, handle string) (string, error)
	WriteValue(ctx context.Context, handle string, value string) error
	Invoke(ctx context.Context, procedure string, params map[string]any) error
}

type CapabilityRegistry interface {
	Lookup(handle string) (domain.Capability, bool)
}

type ProfileStore interface {
	// Load returns nil without error when no profile was persisted yet.
	Load(installationId string) (*domain.DeviceProfile, error)
	Save(profile domain.DeviceProfile) error
}

// SwitchStore persists the runtime optimization switch per installation.
type SwitchStore interface {
	// LoadEnabled returns nil without error when nothing was persisted.
	LoadEnabled(installationId string) (*bool, error)
	SaveEnabled(installationId string, enabled bool) error
}

// DeviceController builds the command sequence of one dialect.
type DeviceController interface {
	Dialect() domain.Dialect
	ApplyForceCharge(powerKw float64) ([]domain.Command, error)
	ApplySelfUse(powerKw float64) ([]domain.Command, error)
	ApplyBackup(powerKw float64) ([]domain.Command, error)
	ApplyForceDischarge(powerKw float64) ([]domain.Command, error)
	// NeedsSettling reports whether consecutive steps must be separated by
	// the settle delay.
	NeedsSettling() bool
}
