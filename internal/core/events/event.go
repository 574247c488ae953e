package events

import (
	"time"

	. "github.com/berfenger/battexec/internal/core/domain"
)

// InstallationStatusToUpdateEvents flattens a status snapshot into the
// sensor updates published for the installation's entities.
func InstallationStatusToUpdateEvents(status InstallationStatus) []any {
	var events []any
	id := status.InstallationID

	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: EntityId(id, SENSOR_SUFFIX_HEALTH),
		},
		Value: string(status.Health),
	})
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: EntityId(id, SENSOR_SUFFIX_NEEDS_ATTENTION),
		},
		Value: status.NeedsAttention,
	})
	events = append(events, SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: EntityId(id, SWITCH_SUFFIX_OPTIMIZATION),
		},
		Value: status.OptimizationEnabled,
	})
	if status.NextExecution != nil {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: EntityId(id, SENSOR_SUFFIX_NEXT_EXECUTION),
			},
			Value: status.NextExecution.Format(time.RFC3339),
		})
	}

	if rec := status.LastExecution; rec != nil {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: EntityId(id, SENSOR_SUFFIX_LAST_OUTCOME),
			},
			Value: string(rec.Outcome),
		})
		if rec.Mode != "" {
			events = append(events, TextSensorUpdateEvent{
				SensorUpdateEventMixIn: SensorUpdateEventMixIn{
					Id: EntityId(id, SENSOR_SUFFIX_LAST_MODE),
				},
				Value: string(rec.Mode),
			})
			events = append(events, FloatSensorUpdateEvent{
				SensorUpdateEventMixIn: SensorUpdateEventMixIn{
					Id: EntityId(id, SENSOR_SUFFIX_LAST_POWER),
				},
				Value:    rec.DispatchedKw,
				Decimals: 2,
			})
		}
		if rec.ActualPowerKw != nil {
			events = append(events, FloatSensorUpdateEvent{
				SensorUpdateEventMixIn: SensorUpdateEventMixIn{
					Id: EntityId(id, SENSOR_SUFFIX_ACTUAL_POWER),
				},
				Value:    *rec.ActualPowerKw,
				Decimals: 2,
			})
		}
	}
	return events
}
