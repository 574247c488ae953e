package store

import (
	"github.com/berfenger/battexec/internal/config"
	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/pkg/sunspec_modbus"
)

const MODBUS_DEVICE_ID = "modbus"

// StaticRegistry answers capability lookups from the configured
// capabilities. Register handles bound in a profile without an explicit
// capability entry belong to the single Modbus device.
type StaticRegistry struct {
	capabilities map[string]domain.Capability
}

func NewStaticRegistry(installations []config.InstallationConfig) *StaticRegistry {
	registry := &StaticRegistry{capabilities: map[string]domain.Capability{}}
	for _, inst := range installations {
		for _, c := range inst.Capabilities {
			if c.Handle == "" {
				continue
			}
			registry.capabilities[c.Handle] = domain.Capability{
				Handle:     c.Handle,
				DeviceID:   c.DeviceId,
				Kind:       c.Kind,
				SharedWith: append([]string(nil), c.SharedWith...),
			}
		}
	}
	for _, inst := range installations {
		for _, handle := range inst.Profile.Bindings {
			if _, ok := registry.capabilities[handle]; ok || !sunspec_modbus.IsHandle(handle) {
				continue
			}
			registry.capabilities[handle] = domain.Capability{
				Handle:   handle,
				DeviceID: MODBUS_DEVICE_ID,
				Kind:     "register",
			}
		}
	}
	return registry
}

func (r *StaticRegistry) Lookup(handle string) (domain.Capability, bool) {
	c, ok := r.capabilities[handle]
	return c, ok
}
