package domain

import (
	"fmt"
	"time"
)

type Dialect string

const (
	DIALECT_GENERIC Dialect = "generic"
	// BrandA: single command-mode selector plus charge/discharge limits in W
	DIALECT_COMMAND_MODE Dialect = "command_mode"
	// BrandB: mode selector plus a power limit entity stepped in 100 W
	DIALECT_STEPPED_100W Dialect = "stepped_100w"
	// BrandC: remote procedure + mode select + grid charge toggle, in order
	DIALECT_MULTI_STEP Dialect = "multi_step"
)

func ParseDialect(value string) (Dialect, error) {
	switch Dialect(value) {
	case DIALECT_GENERIC, DIALECT_COMMAND_MODE, DIALECT_STEPPED_100W, DIALECT_MULTI_STEP:
		return Dialect(value), nil
	}
	return "", fmt.Errorf("unknown dialect %q", value)
}

type Role string

const (
	ROLE_MODE_SELECT         Role = "mode_select"
	ROLE_CHARGE_POWER        Role = "charge_power"
	ROLE_DISCHARGE_POWER     Role = "discharge_power"
	ROLE_COMMAND_MODE        Role = "command_mode"
	ROLE_STEPPED_POWER_LIMIT Role = "stepped_power_limit"
	ROLE_GRID_CHARGE_SWITCH  Role = "grid_charge_switch"
	ROLE_POWER_READING       Role = "power_reading"
	ROLE_SOC_READING         Role = "soc_reading"
)

const (
	POWER_UNIT_W  = "W"
	POWER_UNIT_KW = "kW"
)

type DeviceProfile struct {
	InstallationID string          `yaml:"installation_id"`
	Dialect        Dialect         `yaml:"dialect"`
	Bindings       map[Role]string `yaml:"bindings"`
	ModeNames      map[Mode]string `yaml:"mode_names,omitempty"`
	OwnerDeviceID  string          `yaml:"owner_device_id,omitempty"`
	CapacityKwh    float64         `yaml:"capacity_kwh"`
	MaxPowerKw     float64         `yaml:"max_power_kw"`
	MinSoc         float64         `yaml:"min_soc"`
	MaxSoc         float64         `yaml:"max_soc"`
	// unit of the power_reading binding, W when empty
	PowerReadingUnit string    `yaml:"power_reading_unit,omitempty"`
	ProbedAt         time.Time `yaml:"probed_at"`
}

func (p DeviceProfile) Binding(role Role) (string, bool) {
	handle, ok := p.Bindings[role]
	return handle, ok && handle != ""
}

// ModeName returns the dialect-specific label for a mode, falling back to
// the given default when the installation did not configure one.
func (p DeviceProfile) ModeName(mode Mode, fallback string) string {
	if name, ok := p.ModeNames[mode]; ok && name != "" {
		return name
	}
	return fallback
}

func (p DeviceProfile) Clone() DeviceProfile {
	c := p
	c.Bindings = make(map[Role]string, len(p.Bindings))
	for k, v := range p.Bindings {
		c.Bindings[k] = v
	}
	c.ModeNames = make(map[Mode]string, len(p.ModeNames))
	for k, v := range p.ModeNames {
		c.ModeNames[k] = v
	}
	return c
}

// Capability is what the host platform knows about one binding handle.
type Capability struct {
	Handle   string
	DeviceID string
	Kind     string
	// other devices driven by the same handle, e.g. several batteries
	// behind one grid charge toggle
	SharedWith []string
}
