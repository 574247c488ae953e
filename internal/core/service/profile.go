package service

import (
	"maps"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/core/port"
	"go.uber.org/zap"
)

// DetectDialect classifies bindings structurally. The most specific
// control primitive wins; nothing specific means generic.
func DetectDialect(bindings map[domain.Role]string) domain.Dialect {
	has := func(role domain.Role) bool {
		return bindings[role] != ""
	}
	switch {
	case has(domain.ROLE_GRID_CHARGE_SWITCH):
		return domain.DIALECT_MULTI_STEP
	case has(domain.ROLE_COMMAND_MODE):
		return domain.DIALECT_COMMAND_MODE
	case has(domain.ROLE_STEPPED_POWER_LIMIT):
		return domain.DIALECT_STEPPED_100W
	}
	return domain.DIALECT_GENERIC
}

// ProfileResolver owns the only write path to device profiles. It runs at
// startup before the first tick.
type ProfileResolver struct {
	store    port.ProfileStore
	registry port.CapabilityRegistry
	logger   *zap.Logger
	clock    func() time.Time
}

func NewProfileResolver(store port.ProfileStore, registry port.CapabilityRegistry, logger *zap.Logger) *ProfileResolver {
	return &ProfileResolver{
		store:    store,
		registry: registry,
		logger:   logger,
		clock:    time.Now,
	}
}

// Probe builds a fresh profile from the configured setup. A configured
// dialect is kept, otherwise it is detected from the bindings.
func (r *ProfileResolver) Probe(configured domain.DeviceProfile) domain.DeviceProfile {
	profile := configured.Clone()
	if profile.Dialect == "" {
		profile.Dialect = DetectDialect(profile.Bindings)
	}
	if profile.OwnerDeviceID == "" {
		profile.OwnerDeviceID = r.ownerOf(profile)
	}
	profile.ProbedAt = r.clock()
	r.logger.Info("profile: probed installation",
		zap.String("installation", profile.InstallationID),
		zap.String("dialect", string(profile.Dialect)),
		zap.String("owner_device", profile.OwnerDeviceID))
	return profile
}

// Migrate repairs an owning device binding that points at another device
// than the one owning the grid charge toggle. Running it twice changes
// nothing the second time.
func (r *ProfileResolver) Migrate(profile domain.DeviceProfile) (domain.DeviceProfile, bool) {
	if profile.Dialect != domain.DIALECT_MULTI_STEP {
		return profile, false
	}
	owner := r.ownerOf(profile)
	if owner == "" || owner == profile.OwnerDeviceID {
		return profile, false
	}
	r.logger.Warn("profile: repairing owning device of grid charge switch",
		zap.String("installation", profile.InstallationID),
		zap.String("from", profile.OwnerDeviceID),
		zap.String("to", owner))
	migrated := profile.Clone()
	migrated.OwnerDeviceID = owner
	return migrated, true
}

// Resolve loads the persisted profile, re-probing when the configured setup
// changed, migrates it and validates the result. A ConfigurationError means
// the executor must not start for this installation.
func (r *ProfileResolver) Resolve(configured domain.DeviceProfile) (domain.DeviceProfile, error) {
	stored, err := r.store.Load(configured.InstallationID)
	if err != nil {
		r.logger.Warn("profile: cannot load stored profile, probing again",
			zap.String("installation", configured.InstallationID), zap.Error(err))
		stored = nil
	}

	var profile domain.DeviceProfile
	dirty := false
	if stored == nil || !sameSetup(*stored, configured) {
		profile = r.Probe(configured)
		dirty = true
	} else {
		profile = *stored
	}

	if migrated, changed := r.Migrate(profile); changed {
		profile = migrated
		dirty = true
	}

	if err := ValidateProfile(profile); err != nil {
		return profile, err
	}
	r.warnShared(profile)

	if dirty {
		if err := r.store.Save(profile); err != nil {
			r.logger.Error("profile: cannot persist profile",
				zap.String("installation", profile.InstallationID), zap.Error(err))
		}
	}
	return profile, nil
}

func (r *ProfileResolver) ownerOf(profile domain.DeviceProfile) string {
	handle, ok := profile.Binding(domain.ROLE_GRID_CHARGE_SWITCH)
	if !ok || r.registry == nil {
		return ""
	}
	capability, ok := r.registry.Lookup(handle)
	if !ok {
		return ""
	}
	return capability.DeviceID
}

// Ownership resolution assumes one battery per grid charge toggle.
// Several batteries sharing it are flagged, not guessed at.
func (r *ProfileResolver) warnShared(profile domain.DeviceProfile) {
	handle, ok := profile.Binding(domain.ROLE_GRID_CHARGE_SWITCH)
	if !ok || r.registry == nil {
		return
	}
	if capability, ok := r.registry.Lookup(handle); ok && len(capability.SharedWith) > 0 {
		r.logger.Warn("profile: grid charge switch shared by several batteries, only the owning device is commanded",
			zap.String("installation", profile.InstallationID),
			zap.String("owner_device", profile.OwnerDeviceID),
			zap.Strings("shared_with", capability.SharedWith))
	}
}

func sameSetup(stored, configured domain.DeviceProfile) bool {
	if configured.Dialect != "" && configured.Dialect != stored.Dialect {
		return false
	}
	if configured.OwnerDeviceID != "" && configured.OwnerDeviceID != stored.OwnerDeviceID {
		return false
	}
	return maps.Equal(stored.Bindings, configured.Bindings) &&
		maps.Equal(stored.ModeNames, configured.ModeNames) &&
		stored.CapacityKwh == configured.CapacityKwh &&
		stored.MaxPowerKw == configured.MaxPowerKw &&
		stored.MinSoc == configured.MinSoc &&
		stored.MaxSoc == configured.MaxSoc &&
		stored.PowerReadingUnit == configured.PowerReadingUnit
}
