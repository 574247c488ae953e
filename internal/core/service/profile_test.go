package service

import (
	"errors"
	"testing"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memoryStore struct {
	profiles map[string]domain.DeviceProfile
	saves    int
}

func (s *memoryStore) Load(id string) (*domain.DeviceProfile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memoryStore) Save(p domain.DeviceProfile) error {
	s.profiles[p.InstallationID] = p
	s.saves++
	return nil
}

type staticRegistry map[string]domain.Capability

func (r staticRegistry) Lookup(handle string) (domain.Capability, bool) {
	c, ok := r[handle]
	return c, ok
}

func newResolver(registry staticRegistry) (*ProfileResolver, *memoryStore) {
	store := &memoryStore{profiles: map[string]domain.DeviceProfile{}}
	return NewProfileResolver(store, registry, zap.NewNop()), store
}

func TestDetectDialect(t *testing.T) {
	assert.Equal(t, domain.DIALECT_MULTI_STEP, DetectDialect(multiStepProfile().Bindings))
	assert.Equal(t, domain.DIALECT_COMMAND_MODE, DetectDialect(commandModeProfile().Bindings))
	assert.Equal(t, domain.DIALECT_STEPPED_100W, DetectDialect(steppedProfile().Bindings))
	assert.Equal(t, domain.DIALECT_GENERIC, DetectDialect(genericProfile().Bindings))
	assert.Equal(t, domain.DIALECT_GENERIC, DetectDialect(nil))
}

func TestResolveProbesAndPersists(t *testing.T) {
	registry := staticRegistry{
		"switch.storage_charge_from_grid": {Handle: "switch.storage_charge_from_grid", DeviceID: "battery-device-1"},
	}
	resolver, store := newResolver(registry)
	configured := multiStepProfile()
	configured.Dialect = ""
	configured.OwnerDeviceID = ""

	profile, err := resolver.Resolve(configured)

	require.NoError(t, err)
	assert.Equal(t, domain.DIALECT_MULTI_STEP, profile.Dialect)
	assert.Equal(t, "battery-device-1", profile.OwnerDeviceID)
	assert.False(t, profile.ProbedAt.IsZero())
	assert.Equal(t, 1, store.saves)

	// unchanged setup: cached profile, nothing written
	again, err := resolver.Resolve(configured)
	require.NoError(t, err)
	assert.Equal(t, profile.ProbedAt, again.ProbedAt)
	assert.Equal(t, 1, store.saves)
}

func TestResolveRedetectsOnChangedSetup(t *testing.T) {
	resolver, store := newResolver(nil)
	configured := steppedProfile()
	_, err := resolver.Resolve(configured)
	require.NoError(t, err)

	configured.MaxPowerKw = 8
	profile, err := resolver.Resolve(configured)
	require.NoError(t, err)
	assert.Equal(t, 8.0, profile.MaxPowerKw)
	assert.Equal(t, 2, store.saves)
}

func TestMigrationRepairsOwnerAndIsIdempotent(t *testing.T) {
	registry := staticRegistry{
		"switch.storage_charge_from_grid": {Handle: "switch.storage_charge_from_grid", DeviceID: "battery-device-2"},
	}
	resolver, store := newResolver(registry)
	configured := multiStepProfile()
	configured.OwnerDeviceID = ""
	// stored by an earlier version pointing at the inverter
	stored := multiStepProfile()
	stored.OwnerDeviceID = "inverter-device"
	store.profiles["home"] = stored

	profile, err := resolver.Resolve(configured)
	require.NoError(t, err)
	assert.Equal(t, "battery-device-2", profile.OwnerDeviceID)
	assert.Equal(t, 1, store.saves)

	_, changed := resolver.Migrate(profile)
	assert.False(t, changed)
	_, err = resolver.Resolve(configured)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
}

func TestResolveMissingBindingsIsConfigurationError(t *testing.T) {
	resolver, store := newResolver(nil)
	configured := domain.DeviceProfile{
		InstallationID: "home",
		Bindings: map[domain.Role]string{
			domain.ROLE_COMMAND_MODE: "select.storage_command_mode",
		},
		MaxPowerKw: 5,
	}

	_, err := resolver.Resolve(configured)

	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, domain.DIALECT_COMMAND_MODE, cfgErr.Dialect)
	assert.Equal(t, []domain.Role{domain.ROLE_CHARGE_POWER}, cfgErr.Missing)
	assert.Equal(t, 0, store.saves)
}

func TestResolveFlagsSharedGridSwitch(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	registry := staticRegistry{
		"switch.storage_charge_from_grid": {
			Handle:     "switch.storage_charge_from_grid",
			DeviceID:   "battery-device-1",
			SharedWith: []string{"battery-device-3"},
		},
	}
	store := &memoryStore{profiles: map[string]domain.DeviceProfile{}}
	resolver := NewProfileResolver(store, registry, zap.New(core))

	_, err := resolver.Resolve(multiStepProfile())

	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("shared by several batteries").Len())
}
