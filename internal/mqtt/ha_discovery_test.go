package mqtt

import (
	"testing"

	"github.com/berfenger/battexec/internal/config"
	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func testClient() *MQTTClient {
	cfg := &config.Config{MQTT: config.MQTTConfig{
		Host:             "localhost",
		Port:             1883,
		BaseTopic:        "battexec",
		HADiscoveryTopic: "homeassistant",
	}}
	return CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)
}

func TestInstallationDiscoveryMessages(t *testing.T) {
	client := testClient()
	bridge := domain.BridgeDevice("battexec")
	dev := domain.InstallationDevice("home", domain.DIALECT_MULTI_STEP, bridge)

	var needsAttention domain.GenericSensor
	for _, s := range domain.InstallationSensors("home", dev) {
		if s.Id == "home_needs_attention" {
			needsAttention = s
		}
	}
	msg := GenericSensorToHADiscoveryMessage(client, needsAttention)
	assert.Equal(t, "battexec/binary_sensor/home_needs_attention/state", msg.StateTopic)
	assert.Equal(t, MQTT_PAYLOAD_ON, msg.PayloadOn)
	assert.Equal(t, "battexec/bridge/state", msg.AvTopic)
	assert.Equal(t, "homeassistant/binary_sensor/"+dev.Id+"/home_needs_attention/config", client.HADiscoverySensorTopic(needsAttention))

	sw := domain.InstallationSwitches("home", dev)[0]
	swMsg := GenericSwitchToHADiscoveryMessage(client, sw)
	assert.Equal(t, "battexec/switch/home_optimization/command", swMsg.CommandTopic)
	assert.Equal(t, "battexec/switch/home_optimization/state", swMsg.StateTopic)

	button := domain.InstallationButtons("home", dev)[0]
	btnMsg := GenericButtonToHADiscoveryMessage(client, button)
	assert.Equal(t, "battexec/button/home_trigger/press", btnMsg.CommandTopic)
	assert.Empty(t, btnMsg.StateTopic)
	assert.Equal(t, MQTT_PAYLOAD_PRESS, btnMsg.PayloadPress)
	assert.Equal(t, "homeassistant/button/"+dev.Id+"/home_trigger/config", client.HADiscoveryButtonTopic(button))
}
