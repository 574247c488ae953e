package service

import (
	"fmt"
	"strconv"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/core/port"
)

const (
	STEP_SET_MODE              = "set_mode"
	STEP_SET_COMMAND_MODE      = "set_command_mode"
	STEP_SET_CHARGE_POWER      = "set_charge_power"
	STEP_SET_DISCHARGE_POWER   = "set_discharge_power"
	STEP_SET_POWER_LIMIT       = "set_power_limit"
	STEP_START_FORCIBLE        = "start_forcible"
	STEP_STOP_FORCIBLE         = "stop_forcible_charge"
	STEP_GRID_CHARGE_ON        = "grid_charge_on"
	STEP_GRID_CHARGE_OFF       = "grid_charge_off"
	PROCEDURE_FORCIBLE_CHARGE  = "forcible_charge"
	PROCEDURE_FORCIBLE_DISCH   = "forcible_discharge"
	PROCEDURE_STOP_FORCIBLE    = "stop_forcible_charge"
	SWITCH_ON                  = "on"
	SWITCH_OFF                 = "off"
	DEFAULT_PROCEDURE_DURATION = 16
)

// Command mode labels understood by command_mode inverters.
const (
	COMMAND_MODE_CHARGE_FROM_GRID   = "Charge from Solar Power and Grid"
	COMMAND_MODE_MAX_SELF_CONSUME   = "Maximize Self Consumption"
	COMMAND_MODE_DISCHARGE_TO_GRID  = "Discharge to Maximize Export"
	MULTI_STEP_MODE_FIXED           = "fixed_charge_discharge"
	MULTI_STEP_MODE_MAX_SELF_CONSUM = "maximise_self_consumption"
)

type ControllerOptions struct {
	// ProcedureDurationMinutes is the duration passed to forcible
	// charge/discharge procedures. Slightly longer than one slot.
	ProcedureDurationMinutes int
}

// RequiredRoles lists the bindings a dialect cannot work without.
func RequiredRoles(dialect domain.Dialect) []domain.Role {
	switch dialect {
	case domain.DIALECT_COMMAND_MODE:
		return []domain.Role{domain.ROLE_COMMAND_MODE, domain.ROLE_CHARGE_POWER}
	case domain.DIALECT_STEPPED_100W:
		return []domain.Role{domain.ROLE_MODE_SELECT, domain.ROLE_STEPPED_POWER_LIMIT}
	case domain.DIALECT_MULTI_STEP:
		return []domain.Role{domain.ROLE_MODE_SELECT, domain.ROLE_GRID_CHARGE_SWITCH}
	default:
		return []domain.Role{domain.ROLE_MODE_SELECT, domain.ROLE_CHARGE_POWER}
	}
}

// ValidateProfile returns a ConfigurationError naming every missing
// binding of the profile's dialect.
func ValidateProfile(profile domain.DeviceProfile) error {
	var missing []domain.Role
	for _, role := range RequiredRoles(profile.Dialect) {
		if _, ok := profile.Binding(role); !ok {
			missing = append(missing, role)
		}
	}
	var reason string
	if profile.Dialect == domain.DIALECT_MULTI_STEP && profile.OwnerDeviceID == "" {
		reason = "owning device of the grid charge switch is unknown"
	}
	if profile.MaxPowerKw <= 0 {
		reason = "max_power_kw must be > 0"
	}
	if len(missing) > 0 || reason != "" {
		return &domain.ConfigurationError{
			InstallationID: profile.InstallationID,
			Dialect:        profile.Dialect,
			Missing:        missing,
			Reason:         reason,
		}
	}
	return nil
}

// NewDeviceController picks the controller variant from the cached profile.
func NewDeviceController(profile domain.DeviceProfile, opts ControllerOptions) (port.DeviceController, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}
	if opts.ProcedureDurationMinutes <= 0 {
		opts.ProcedureDurationMinutes = DEFAULT_PROCEDURE_DURATION
	}
	switch profile.Dialect {
	case domain.DIALECT_COMMAND_MODE:
		return &commandModeController{profile: profile}, nil
	case domain.DIALECT_STEPPED_100W:
		return &steppedController{profile: profile}, nil
	case domain.DIALECT_MULTI_STEP:
		return &multiStepController{profile: profile, duration: opts.ProcedureDurationMinutes}, nil
	case domain.DIALECT_GENERIC, "":
		return &genericController{profile: profile}, nil
	}
	return nil, &domain.ConfigurationError{
		InstallationID: profile.InstallationID,
		Dialect:        profile.Dialect,
		Reason:         "unsupported dialect",
	}
}

// MapDecision translates a mode and an already clamped power into the
// controller's command sequence.
func MapDecision(ctrl port.DeviceController, mode domain.Mode, powerKw float64) ([]domain.Command, error) {
	switch mode {
	case domain.MODE_FORCE_CHARGE:
		return ctrl.ApplyForceCharge(powerKw)
	case domain.MODE_SELF_USE:
		return ctrl.ApplySelfUse(powerKw)
	case domain.MODE_BACKUP:
		return ctrl.ApplyBackup(powerKw)
	case domain.MODE_FORCE_DISCHARGE:
		return ctrl.ApplyForceDischarge(powerKw)
	}
	return nil, fmt.Errorf("unsupported mode %q", mode)
}

func mustBinding(profile domain.DeviceProfile, role domain.Role) (string, error) {
	handle, ok := profile.Binding(role)
	if !ok {
		return "", &domain.ConfigurationError{
			InstallationID: profile.InstallationID,
			Dialect:        profile.Dialect,
			Missing:        []domain.Role{role},
		}
	}
	return handle, nil
}

func watts(powerKw float64) string {
	return strconv.FormatInt(KwToWatts(powerKw), 10)
}

// Generic: mode select plus a kW setpoint

type genericController struct {
	profile domain.DeviceProfile
}

func (c *genericController) Dialect() domain.Dialect { return domain.DIALECT_GENERIC }

func (c *genericController) NeedsSettling() bool { return false }

func (c *genericController) selectMode(mode domain.Mode) domain.Command {
	handle, _ := c.profile.Binding(domain.ROLE_MODE_SELECT)
	return domain.WriteCommand(STEP_SET_MODE, handle, c.profile.ModeName(mode, string(mode)))
}

func (c *genericController) ApplyForceCharge(powerKw float64) ([]domain.Command, error) {
	handle, _ := c.profile.Binding(domain.ROLE_CHARGE_POWER)
	return []domain.Command{
		c.selectMode(domain.MODE_FORCE_CHARGE),
		domain.WriteCommand(STEP_SET_CHARGE_POWER, handle, FormatKw(powerKw)),
	}, nil
}

func (c *genericController) ApplySelfUse(float64) ([]domain.Command, error) {
	return []domain.Command{c.selectMode(domain.MODE_SELF_USE)}, nil
}

func (c *genericController) ApplyBackup(float64) ([]domain.Command, error) {
	return []domain.Command{c.selectMode(domain.MODE_BACKUP)}, nil
}

func (c *genericController) ApplyForceDischarge(powerKw float64) ([]domain.Command, error) {
	handle, ok := c.profile.Binding(domain.ROLE_DISCHARGE_POWER)
	if !ok {
		handle, _ = c.profile.Binding(domain.ROLE_CHARGE_POWER)
	}
	return []domain.Command{
		c.selectMode(domain.MODE_FORCE_DISCHARGE),
		domain.WriteCommand(STEP_SET_DISCHARGE_POWER, handle, FormatKw(powerKw)),
	}, nil
}

// Command mode (BrandA): W limits first, then the command mode selector

type commandModeController struct {
	profile domain.DeviceProfile
}

func (c *commandModeController) Dialect() domain.Dialect { return domain.DIALECT_COMMAND_MODE }

func (c *commandModeController) NeedsSettling() bool { return false }

func (c *commandModeController) commandMode(mode domain.Mode, fallback string) domain.Command {
	handle, _ := c.profile.Binding(domain.ROLE_COMMAND_MODE)
	return domain.WriteCommand(STEP_SET_COMMAND_MODE, handle, c.profile.ModeName(mode, fallback))
}

func (c *commandModeController) limits(chargeKw float64, dischargeKw *float64) []domain.Command {
	charge, _ := c.profile.Binding(domain.ROLE_CHARGE_POWER)
	cmds := []domain.Command{domain.WriteCommand(STEP_SET_CHARGE_POWER, charge, watts(chargeKw))}
	if discharge, ok := c.profile.Binding(domain.ROLE_DISCHARGE_POWER); ok && dischargeKw != nil {
		cmds = append(cmds, domain.WriteCommand(STEP_SET_DISCHARGE_POWER, discharge, watts(*dischargeKw)))
	}
	return cmds
}

func (c *commandModeController) ApplyForceCharge(powerKw float64) ([]domain.Command, error) {
	cmds := c.limits(powerKw, nil)
	return append(cmds, c.commandMode(domain.MODE_FORCE_CHARGE, COMMAND_MODE_CHARGE_FROM_GRID)), nil
}

func (c *commandModeController) ApplySelfUse(float64) ([]domain.Command, error) {
	max := c.profile.MaxPowerKw
	cmds := c.limits(max, &max)
	return append(cmds, c.commandMode(domain.MODE_SELF_USE, COMMAND_MODE_MAX_SELF_CONSUME)), nil
}

// ApplyBackup keeps charging allowed and blocks discharging.
func (c *commandModeController) ApplyBackup(float64) ([]domain.Command, error) {
	zero := 0.0
	cmds := c.limits(c.profile.MaxPowerKw, &zero)
	return append(cmds, c.commandMode(domain.MODE_BACKUP, COMMAND_MODE_MAX_SELF_CONSUME)), nil
}

func (c *commandModeController) ApplyForceDischarge(powerKw float64) ([]domain.Command, error) {
	discharge, err := mustBinding(c.profile, domain.ROLE_DISCHARGE_POWER)
	if err != nil {
		return nil, err
	}
	return []domain.Command{
		domain.WriteCommand(STEP_SET_DISCHARGE_POWER, discharge, watts(powerKw)),
		c.commandMode(domain.MODE_FORCE_DISCHARGE, COMMAND_MODE_DISCHARGE_TO_GRID),
	}, nil
}

// Stepped (BrandB): configured mode label plus a 100 W stepped limit

type steppedController struct {
	profile domain.DeviceProfile
}

func (c *steppedController) Dialect() domain.Dialect { return domain.DIALECT_STEPPED_100W }

func (c *steppedController) NeedsSettling() bool { return false }

func (c *steppedController) selectMode(mode domain.Mode) domain.Command {
	handle, _ := c.profile.Binding(domain.ROLE_MODE_SELECT)
	return domain.WriteCommand(STEP_SET_MODE, handle, c.profile.ModeName(mode, string(mode)))
}

func (c *steppedController) powerLimit(powerKw float64) domain.Command {
	handle, _ := c.profile.Binding(domain.ROLE_STEPPED_POWER_LIMIT)
	return domain.WriteCommand(STEP_SET_POWER_LIMIT, handle, strconv.FormatInt(Round100(powerKw), 10))
}

func (c *steppedController) ApplyForceCharge(powerKw float64) ([]domain.Command, error) {
	return []domain.Command{c.selectMode(domain.MODE_FORCE_CHARGE), c.powerLimit(powerKw)}, nil
}

func (c *steppedController) ApplySelfUse(float64) ([]domain.Command, error) {
	return []domain.Command{c.selectMode(domain.MODE_SELF_USE)}, nil
}

func (c *steppedController) ApplyBackup(float64) ([]domain.Command, error) {
	return []domain.Command{c.selectMode(domain.MODE_BACKUP)}, nil
}

func (c *steppedController) ApplyForceDischarge(powerKw float64) ([]domain.Command, error) {
	return []domain.Command{c.selectMode(domain.MODE_FORCE_DISCHARGE), c.powerLimit(powerKw)}, nil
}

// Multi step (BrandC): remote procedure, mode select and grid charge
// toggle in a fixed order with a settle delay in between

type multiStepController struct {
	profile  domain.DeviceProfile
	duration int
}

func (c *multiStepController) Dialect() domain.Dialect { return domain.DIALECT_MULTI_STEP }

func (c *multiStepController) NeedsSettling() bool { return true }

func (c *multiStepController) selectMode(mode domain.Mode, fallback string) domain.Command {
	handle, _ := c.profile.Binding(domain.ROLE_MODE_SELECT)
	return domain.WriteCommand(STEP_SET_MODE, handle, c.profile.ModeName(mode, fallback))
}

func (c *multiStepController) gridCharge(on bool) domain.Command {
	handle, _ := c.profile.Binding(domain.ROLE_GRID_CHARGE_SWITCH)
	if on {
		return domain.WriteCommand(STEP_GRID_CHARGE_ON, handle, SWITCH_ON)
	}
	return domain.WriteCommand(STEP_GRID_CHARGE_OFF, handle, SWITCH_OFF)
}

func (c *multiStepController) forcible(procedure string, powerKw float64) domain.Command {
	return domain.InvokeCommand(STEP_START_FORCIBLE, procedure, map[string]any{
		"device_id": c.profile.OwnerDeviceID,
		"duration":  c.duration,
		"power":     watts(powerKw),
	})
}

func (c *multiStepController) stop() domain.Command {
	return domain.InvokeCommand(STEP_STOP_FORCIBLE, PROCEDURE_STOP_FORCIBLE, map[string]any{
		"device_id": c.profile.OwnerDeviceID,
	})
}

func (c *multiStepController) ApplyForceCharge(powerKw float64) ([]domain.Command, error) {
	return []domain.Command{
		c.forcible(PROCEDURE_FORCIBLE_CHARGE, powerKw),
		c.selectMode(domain.MODE_FORCE_CHARGE, MULTI_STEP_MODE_FIXED),
		c.gridCharge(true),
	}, nil
}

func (c *multiStepController) ApplySelfUse(float64) ([]domain.Command, error) {
	return []domain.Command{
		c.gridCharge(false),
		c.selectMode(domain.MODE_SELF_USE, MULTI_STEP_MODE_MAX_SELF_CONSUM),
		c.stop(),
	}, nil
}

func (c *multiStepController) ApplyBackup(float64) ([]domain.Command, error) {
	return []domain.Command{
		c.gridCharge(false),
		c.selectMode(domain.MODE_BACKUP, MULTI_STEP_MODE_MAX_SELF_CONSUM),
		c.stop(),
	}, nil
}

func (c *multiStepController) ApplyForceDischarge(powerKw float64) ([]domain.Command, error) {
	return []domain.Command{
		c.forcible(PROCEDURE_FORCIBLE_DISCH, powerKw),
		c.selectMode(domain.MODE_FORCE_DISCHARGE, MULTI_STEP_MODE_FIXED),
		c.gridCharge(false),
	}, nil
}
