package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE = "bridge"

	SENSOR_SUFFIX_HEALTH          = "health"
	SENSOR_SUFFIX_NEEDS_ATTENTION = "needs_attention"
	SENSOR_SUFFIX_LAST_OUTCOME    = "last_outcome"
	SENSOR_SUFFIX_LAST_MODE       = "last_mode"
	SENSOR_SUFFIX_LAST_POWER      = "last_power"
	SENSOR_SUFFIX_ACTUAL_POWER    = "actual_power"
	SENSOR_SUFFIX_NEXT_EXECUTION  = "next_execution"
	SWITCH_SUFFIX_OPTIMIZATION    = "optimization"
	BUTTON_SUFFIX_TRIGGER         = "trigger"

	STATE_CLASS_MEASUREMENT   = "measurement"
	DEVICE_CLASS_POWER        = "power"
	DEVICE_CLASS_PROBLEM      = "problem"
	DEVICE_CLASS_TIMESTAMP    = "timestamp"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC   = "diagnostic"
	SENSOR_TYPE_SENSOR        = "sensor"
	SENSOR_TYPE_BINARY        = "binary_sensor"
)

// EntityId builds the per-installation entity id used in topics and
// discovery, e.g. "home_health".
func EntityId(installationId, suffix string) string {
	return fmt.Sprintf("%s_%s", installationId, suffix)
}

// SplitEntityId is the inverse of EntityId for a known suffix.
func SplitEntityId(entityId, suffix string) (string, bool) {
	id, found := strings.CutSuffix(entityId, "_"+suffix)
	if !found || id == "" {
		return "", false
	}
	return id, true
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("battexec_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Battery Control Executor",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Battexec %s", md5HashShort(baseTopic)),
	}
}

func InstallationDevice(installationId string, dialect Dialect, bridge Device) Device {
	return Device{
		Id:        fmt.Sprintf("battexec_inst_%s", md5HashShort(installationId)),
		Model:     string(dialect),
		Name:      fmt.Sprintf("Battery %s", installationId),
		ViaDevice: bridge.Id,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Bridge state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func InstallationSensors(installationId string, device Device) []GenericSensor {
	var sensors []GenericSensor

	add := func(sensor GenericSensor) {
		// only the first entity carries the full device description
		if len(sensors) > 0 {
			sensor.Device = IdDevice(device)
		} else {
			sensor.Device = device
		}
		sensor.UniqueId = uniqueId(device.Id, sensor.Id)
		sensors = append(sensors, sensor)
	}

	add(GenericSensor{
		Id:         EntityId(installationId, SENSOR_SUFFIX_HEALTH),
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Control health",
		Icon:       "mdi:heart-pulse",
	})
	add(GenericSensor{
		Id:          EntityId(installationId, SENSOR_SUFFIX_NEEDS_ATTENTION),
		SensorType:  SENSOR_TYPE_BINARY,
		Name:        "Control needs attention",
		DeviceClass: DEVICE_CLASS_PROBLEM,
	})
	add(GenericSensor{
		Id:         EntityId(installationId, SENSOR_SUFFIX_LAST_OUTCOME),
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Last execution outcome",
		Icon:       "mdi:clipboard-check-outline",
	})
	add(GenericSensor{
		Id:         EntityId(installationId, SENSOR_SUFFIX_LAST_MODE),
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Last execution mode",
		Icon:       "mdi:battery-sync",
	})
	add(GenericSensor{
		Id:                EntityId(installationId, SENSOR_SUFFIX_LAST_POWER),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Last dispatched power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "kW",
	})
	add(GenericSensor{
		Id:                EntityId(installationId, SENSOR_SUFFIX_ACTUAL_POWER),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Last measured battery power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "kW",
	})
	add(GenericSensor{
		Id:             EntityId(installationId, SENSOR_SUFFIX_NEXT_EXECUTION),
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Next execution",
		DeviceClass:    DEVICE_CLASS_TIMESTAMP,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
	})

	return sensors
}

func InstallationSwitches(installationId string, device Device) []GenericSwitch {
	id := EntityId(installationId, SWITCH_SUFFIX_OPTIMIZATION)
	return []GenericSwitch{{
		Device:   IdDevice(device),
		Id:       id,
		Name:     "Optimization",
		UniqueId: uniqueId(device.Id, id),
		Icon:     "mdi:robot",
	}}
}

func InstallationButtons(installationId string, device Device) []GenericButton {
	id := EntityId(installationId, BUTTON_SUFFIX_TRIGGER)
	return []GenericButton{{
		Device:   IdDevice(device),
		Id:       id,
		Name:     "Run control now",
		UniqueId: uniqueId(device.Id, id),
		Icon:     "mdi:play",
	}}
}

func uniqueId(deviceId, sensorId string) string {
	return fmt.Sprintf("%s_%s", deviceId, sensorId)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}
