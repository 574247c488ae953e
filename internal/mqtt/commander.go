package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const DEFAULT_COMMAND_TIMEOUT = 5 * time.Second

type pubSub interface {
	Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration)
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration)
}

// Commander drives devices through an MQTT command bridge:
//
//	<prefix>/<handle>/set        entity writes
//	<prefix>/<handle>/state      entity states (subscribed, cached)
//	<prefix>/call/<procedure>    remote procedure calls, JSON params
type Commander struct {
	client      pubSub
	prefix      string
	timeout     time.Duration
	stateRegexp *regexp.Regexp
	mu          sync.RWMutex
	states      map[string]string
	logger      *zap.Logger
}

func NewCommander(client *MQTTClient, prefix string, logger *zap.Logger) *Commander {
	return newCommander(client, prefix, DEFAULT_COMMAND_TIMEOUT, logger)
}

func newCommander(client pubSub, prefix string, timeout time.Duration, logger *zap.Logger) *Commander {
	return &Commander{
		client:      client,
		prefix:      prefix,
		timeout:     timeout,
		stateRegexp: regexp.MustCompile(fmt.Sprintf("^%s/([^/]+)/state$", regexp.QuoteMeta(prefix))),
		states:      map[string]string{},
		logger:      logger,
	}
}

func (c *Commander) SetTopic(handle string) string {
	return fmt.Sprintf("%s/%s/set", c.prefix, handle)
}

func (c *Commander) StateTopic(handle string) string {
	return fmt.Sprintf("%s/%s/state", c.prefix, handle)
}

func (c *Commander) CallTopic(procedure string) string {
	return fmt.Sprintf("%s/call/%s", c.prefix, procedure)
}

// Subscribe starts caching entity states. It must be called again after a
// reconnect.
func (c *Commander) Subscribe(continuation func(error)) {
	c.client.Subscribe(fmt.Sprintf("%s/+/state", c.prefix), 1, c.onState, continuation, c.timeout)
}

func (c *Commander) onState(_ mqtt.Client, msg mqtt.Message) {
	matches := c.stateRegexp.FindStringSubmatch(msg.Topic())
	if len(matches) != 2 {
		return
	}
	c.mu.Lock()
	c.states[matches[1]] = string(msg.Payload())
	c.mu.Unlock()
}

func (c *Commander) ReadState(_ context.Context, handle string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.states[handle]
	if !ok {
		return "", fmt.Errorf("no state received for %s", handle)
	}
	return value, nil
}

func (c *Commander) WriteValue(ctx context.Context, handle string, value string) error {
	return c.publish(ctx, c.SetTopic(handle), value)
}

func (c *Commander) Invoke(ctx context.Context, procedure string, params map[string]any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return c.publish(ctx, c.CallTopic(procedure), string(payload))
}

// publish turns the continuation style client call into a blocking call
// bounded by ctx.
func (c *Commander) publish(ctx context.Context, topic, payload string) error {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	done := make(chan error, 1)
	c.client.Publish(topic, payload, 1, false, func(err error) {
		done <- err
	}, timeout)
	select {
	case err := <-done:
		if err != nil {
			c.logger.Warn("mqtt_commander: publish failed", zap.String("topic", topic), zap.Error(err))
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
