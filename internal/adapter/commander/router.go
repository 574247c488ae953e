package commander

import (
	"context"
	"errors"
	"fmt"

	"github.com/berfenger/battexec/internal/core/port"
	"github.com/berfenger/battexec/pkg/sunspec_modbus"
)

var ErrNoBackend = errors.New("no device backend configured for handle")

// Router sends register handles to the Modbus backend and everything else
// to the MQTT backend. Remote procedures always go through MQTT.
type Router struct {
	mqtt   port.DeviceCommander
	modbus port.DeviceCommander
}

// NewRouter accepts nil for backends that are not configured.
func NewRouter(mqtt port.DeviceCommander, modbus port.DeviceCommander) *Router {
	return &Router{
		mqtt:   mqtt,
		modbus: modbus,
	}
}

func (r *Router) backend(handle string) (port.DeviceCommander, error) {
	var backend port.DeviceCommander
	if sunspec_modbus.IsHandle(handle) {
		backend = r.modbus
	} else {
		backend = r.mqtt
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, handle)
	}
	return backend, nil
}

func (r *Router) ReadState(ctx context.Context, handle string) (string, error) {
	backend, err := r.backend(handle)
	if err != nil {
		return "", err
	}
	return backend.ReadState(ctx, handle)
}

func (r *Router) WriteValue(ctx context.Context, handle string, value string) error {
	backend, err := r.backend(handle)
	if err != nil {
		return err
	}
	return backend.WriteValue(ctx, handle, value)
}

func (r *Router) Invoke(ctx context.Context, procedure string, params map[string]any) error {
	if r.mqtt == nil {
		return fmt.Errorf("%w: %s", ErrNoBackend, procedure)
	}
	return r.mqtt.Invoke(ctx, procedure, params)
}
