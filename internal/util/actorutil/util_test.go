package actorutil

import (
	"testing"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsedMQTTCommandToRequest(t *testing.T) {
	req := ParsedMQTTCommandToRequest(mqtt.ParsedMQTTCommand{
		DeviceId: "home_optimization",
		Command:  mqtt.COMMAND_SWITCH,
		Payload:  "ON",
	})
	enable, ok := req.(domain.SetOptimizationEnabledRequest)
	require.True(t, ok)
	assert.Equal(t, "home", enable.Installation())
	assert.True(t, enable.Enabled)

	req = ParsedMQTTCommandToRequest(mqtt.ParsedMQTTCommand{
		DeviceId: "home_trigger",
		Command:  mqtt.COMMAND_BUTTON,
		Payload:  "PRESS",
	})
	trigger, ok := req.(domain.TriggerTickRequest)
	require.True(t, ok)
	assert.Equal(t, "home", trigger.Installation())

	assert.Nil(t, ParsedMQTTCommandToRequest(mqtt.ParsedMQTTCommand{
		DeviceId: "home_trigger",
		Command:  mqtt.COMMAND_SWITCH,
	}))
}
