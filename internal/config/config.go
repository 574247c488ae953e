package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/pkg/sunspec_modbus"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel      zapcore.Level
	MQTT          MQTTConfig           `mapstructure:"mqtt"`
	Modbus        ModbusConfig         `mapstructure:"modbus"`
	Control       ControlConfig        `mapstructure:"control"`
	Installations []InstallationConfig `mapstructure:"installations"`
	Port          uint                 `mapstructure:"port"`
	HttpLog       bool                 `mapstructure:"http_log"`
	DataDir       string               `mapstructure:"data_dir"`
	Timezone      string               `mapstructure:"timezone"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
	// topic prefix of the device command bridge
	CommandPrefix string `mapstructure:"command_prefix"`
}

func (c MQTTConfig) Enabled() bool {
	return c.Host != ""
}

type ModbusConfig struct {
	Host          string
	Port          uint
	UnitId        uint   `mapstructure:"unit_id"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

func (c ModbusConfig) Enabled() bool {
	return c.Host != ""
}

type ControlConfig struct {
	ScheduleCron             string `mapstructure:"schedule_cron"`
	LookbackSeconds          uint32 `mapstructure:"lookback_seconds"`
	TickTimeoutSeconds       uint32 `mapstructure:"tick_timeout_seconds"`
	StepTimeoutSeconds       uint32 `mapstructure:"step_timeout_seconds"`
	SettleDelayMillis        uint32 `mapstructure:"settle_delay_millis"`
	FailureThreshold         int    `mapstructure:"failure_threshold"`
	AutonomyHours            uint32 `mapstructure:"autonomy_hours"`
	FetchTimeoutSeconds      uint32 `mapstructure:"fetch_timeout_seconds"`
	FeedbackTimeoutSeconds   uint32 `mapstructure:"feedback_timeout_seconds"`
	ProcedureDurationMinutes int    `mapstructure:"procedure_duration_minutes"`
}

func (c ControlConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackSeconds) * time.Second
}

func (c ControlConfig) TickTimeout() time.Duration {
	return time.Duration(c.TickTimeoutSeconds) * time.Second
}

func (c ControlConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

func (c ControlConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMillis) * time.Millisecond
}

func (c ControlConfig) Autonomy() time.Duration {
	return time.Duration(c.AutonomyHours) * time.Hour
}

func (c ControlConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c ControlConfig) FeedbackTimeout() time.Duration {
	return time.Duration(c.FeedbackTimeoutSeconds) * time.Second
}

type InstallationConfig struct {
	Id           string
	Enabled      bool
	DryRun       bool               `mapstructure:"dry_run"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Profile      ProfileConfig      `mapstructure:"profile"`
	Capabilities []CapabilityConfig `mapstructure:"capabilities"`
}

type FeedConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type ProfileConfig struct {
	Dialect          string
	Bindings         map[string]string
	ModeNames        map[string]string `mapstructure:"mode_names"`
	OwnerDeviceId    string            `mapstructure:"owner_device_id"`
	CapacityKwh      float64           `mapstructure:"capacity_kwh"`
	MaxPowerKw       float64           `mapstructure:"max_power_kw"`
	MinSoc           float64           `mapstructure:"min_soc"`
	MaxSoc           float64           `mapstructure:"max_soc"`
	PowerReadingUnit string            `mapstructure:"power_reading_unit"`
}

type CapabilityConfig struct {
	Handle     string
	DeviceId   string `mapstructure:"device_id"`
	Kind       string
	SharedWith []string `mapstructure:"shared_with"`
}

var knownRoles = []domain.Role{
	domain.ROLE_MODE_SELECT,
	domain.ROLE_CHARGE_POWER,
	domain.ROLE_DISCHARGE_POWER,
	domain.ROLE_COMMAND_MODE,
	domain.ROLE_STEPPED_POWER_LIMIT,
	domain.ROLE_GRID_CHARGE_SWITCH,
	domain.ROLE_POWER_READING,
	domain.ROLE_SOC_READING,
}

// DeviceProfile converts the configured setup into the profile handed to
// the resolver. Dialect stays empty when not configured so it is detected.
func (c InstallationConfig) DeviceProfile() (domain.DeviceProfile, error) {
	profile := domain.DeviceProfile{
		InstallationID:   c.Id,
		Bindings:         map[domain.Role]string{},
		ModeNames:        map[domain.Mode]string{},
		OwnerDeviceID:    c.Profile.OwnerDeviceId,
		CapacityKwh:      c.Profile.CapacityKwh,
		MaxPowerKw:       c.Profile.MaxPowerKw,
		MinSoc:           c.Profile.MinSoc,
		MaxSoc:           c.Profile.MaxSoc,
		PowerReadingUnit: c.Profile.PowerReadingUnit,
	}
	if c.Profile.Dialect != "" {
		dialect, err := domain.ParseDialect(strings.ToLower(c.Profile.Dialect))
		if err != nil {
			return profile, fmt.Errorf("installation %s: %w", c.Id, err)
		}
		profile.Dialect = dialect
	}
	for key, handle := range c.Profile.Bindings {
		role, ok := parseRole(key)
		if !ok {
			return profile, fmt.Errorf("installation %s: unknown binding role %q", c.Id, key)
		}
		profile.Bindings[role] = handle
	}
	for key, label := range c.Profile.ModeNames {
		mode, err := domain.ParseMode(key)
		if err != nil {
			return profile, fmt.Errorf("installation %s: %w", c.Id, err)
		}
		profile.ModeNames[mode] = label
	}
	if unit := c.Profile.PowerReadingUnit; unit != "" &&
		!strings.EqualFold(unit, domain.POWER_UNIT_W) && !strings.EqualFold(unit, domain.POWER_UNIT_KW) {
		return profile, fmt.Errorf("installation %s: power_reading_unit must be W or kW", c.Id)
	}
	return profile, nil
}

func parseRole(key string) (domain.Role, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, r := range knownRoles {
		if string(r) == key {
			return r, true
		}
	}
	return "", false
}

// CheckInstallations validates identities and limits of every installation.
func CheckInstallations(installations []InstallationConfig) error {
	if len(installations) == 0 {
		return errors.New("no installations configured")
	}
	seen := map[string]bool{}
	for i, inst := range installations {
		id, err := CheckMQTTTopic(inst.Id)
		if err != nil {
			return fmt.Errorf("installations[%d].id: %w", i, err)
		}
		installations[i].Id = id
		if seen[id] {
			return fmt.Errorf("installations[%d].id: duplicated id %s", i, id)
		}
		seen[id] = true
		if inst.Feed.URL == "" {
			return fmt.Errorf("installation %s: feed.url is required", id)
		}
		if inst.Profile.MaxPowerKw <= 0 {
			return fmt.Errorf("installation %s: profile.max_power_kw should be > 0", id)
		}
		if inst.Profile.MinSoc < 0 || inst.Profile.MaxSoc > 1 || inst.Profile.MinSoc > inst.Profile.MaxSoc {
			return fmt.Errorf("installation %s: profile soc limits must satisfy 0 <= min_soc <= max_soc <= 1", id)
		}
		if err := checkPowerRegisters(inst); err != nil {
			return fmt.Errorf("installation %s: %w", id, err)
		}
	}
	return nil
}

// setpoints of these roles are written in W
var wattRoles = []domain.Role{
	domain.ROLE_CHARGE_POWER,
	domain.ROLE_DISCHARGE_POWER,
	domain.ROLE_STEPPED_POWER_LIMIT,
}

// checkPowerRegisters rejects a max_power_kw that an unscaled int16 modbus
// register bound to a setpoint role cannot hold.
func checkPowerRegisters(inst InstallationConfig) error {
	maxWatts := inst.Profile.MaxPowerKw * 1000
	for key, handle := range inst.Profile.Bindings {
		role, ok := parseRole(key)
		if !ok || !slices.Contains(wattRoles, role) || !sunspec_modbus.IsHandle(handle) {
			continue
		}
		reg, err := sunspec_modbus.ParseHandle(handle)
		if err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
		if !reg.HasScaleFactor && maxWatts > math.MaxInt16 {
			return fmt.Errorf("binding %s: register %d holds at most %d W without a scale factor register, profile.max_power_kw is %g",
				key, reg.Address, math.MaxInt16, inst.Profile.MaxPowerKw)
		}
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
