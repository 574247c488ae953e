package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	topic   string
	payload string
}

type fakePubSub struct {
	mu        sync.Mutex
	published []published
	handler   mqtt.MessageHandler
	err       error
	hang      bool
}

func (f *fakePubSub) Publish(topic string, payload any, _ byte, _ bool, continuation func(error), _ time.Duration) {
	f.mu.Lock()
	f.published = append(f.published, published{topic: topic, payload: payload.(string)})
	err, hang := f.err, f.hang
	f.mu.Unlock()
	if !hang {
		go continuation(err)
	}
}

func (f *fakePubSub) Subscribe(_ string, _ byte, handler mqtt.MessageHandler, continuation func(error), _ time.Duration) {
	f.handler = handler
	continuation(nil)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return true }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestCommanderWrite(t *testing.T) {
	ps := &fakePubSub{}
	c := newCommander(ps, "bridge", time.Second, zap.NewNop())

	require.NoError(t, c.WriteValue(context.Background(), "select.work_mode", "Zwangsladen"))

	require.Len(t, ps.published, 1)
	assert.Equal(t, "bridge/select.work_mode/set", ps.published[0].topic)
	assert.Equal(t, "Zwangsladen", ps.published[0].payload)
}

func TestCommanderInvoke(t *testing.T) {
	ps := &fakePubSub{}
	c := newCommander(ps, "bridge", time.Second, zap.NewNop())

	err := c.Invoke(context.Background(), "forcible_charge", map[string]any{
		"device_id": "battery-1",
		"duration":  16,
		"power":     "2500",
	})
	require.NoError(t, err)

	require.Len(t, ps.published, 1)
	assert.Equal(t, "bridge/call/forcible_charge", ps.published[0].topic)
	var params map[string]any
	require.NoError(t, json.Unmarshal([]byte(ps.published[0].payload), &params))
	assert.Equal(t, "battery-1", params["device_id"])
	assert.Equal(t, "2500", params["power"])
}

func TestCommanderPublishError(t *testing.T) {
	ps := &fakePubSub{err: errors.New("not connected")}
	c := newCommander(ps, "bridge", time.Second, zap.NewNop())

	assert.EqualError(t, c.WriteValue(context.Background(), "switch.grid", "on"), "not connected")
}

func TestCommanderHonoursContext(t *testing.T) {
	ps := &fakePubSub{hang: true}
	c := newCommander(ps, "bridge", time.Second, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.WriteValue(ctx, "switch.grid", "on"), context.DeadlineExceeded)
}

func TestCommanderStateCache(t *testing.T) {
	ps := &fakePubSub{}
	c := newCommander(ps, "bridge", time.Second, zap.NewNop())
	var subErr error = errors.New("pending")
	c.Subscribe(func(err error) { subErr = err })
	require.NoError(t, subErr)

	_, err := c.ReadState(context.Background(), "sensor.battery_power")
	assert.Error(t, err)

	ps.handler(nil, fakeMessage{topic: "bridge/sensor.battery_power/state", payload: []byte("-1500")})
	ps.handler(nil, fakeMessage{topic: "other/sensor.battery_soc/state", payload: []byte("50")})

	value, err := c.ReadState(context.Background(), "sensor.battery_power")
	require.NoError(t, err)
	assert.Equal(t, "-1500", value)
	_, err = c.ReadState(context.Background(), "sensor.battery_soc")
	assert.Error(t, err)
}
