package modbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/battexec/internal/observability/metrics"
	"github.com/berfenger/battexec/pkg/sunspec_modbus"
	"go.uber.org/zap"
)

var ErrInvokeUnsupported = errors.New("modbus backend does not support remote procedures")

type registerClient interface {
	ReadScaled(reg sunspec_modbus.Register) (float64, error)
	WriteScaled(reg sunspec_modbus.Register, value float64) error
}

// Commander drives register-bound capabilities. Switch payloads map to
// 1/0, every other value must be numeric.
type Commander struct {
	client registerClient
	logger *zap.Logger
}

func NewCommander(host string, port uint, unitId uint8, timeout time.Duration, logger *zap.Logger) (*Commander, *sunspec_modbus.ModbusClient, error) {
	client, err := sunspec_modbus.NewRegisterClient(host, port, unitId, timeout, Instrumentation())
	if err != nil {
		return nil, nil, err
	}
	return NewCommanderWithClient(client, logger), client, nil
}

func NewCommanderWithClient(client registerClient, logger *zap.Logger) *Commander {
	return &Commander{
		client: client,
		logger: logger,
	}
}

// Instrumentation reports register transaction times to prometheus.
func Instrumentation() *sunspec_modbus.ModbusInstrument {
	return &sunspec_modbus.ModbusInstrument{
		RecordTime: metrics.ObserveModbus,
	}
}

func (c *Commander) ReadState(ctx context.Context, handle string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	reg, err := sunspec_modbus.ParseHandle(handle)
	if err != nil {
		return "", err
	}
	value, err := c.client.ReadScaled(reg)
	if err != nil {
		return "", fmt.Errorf("modbus read %s: %w", handle, err)
	}
	return strconv.FormatFloat(value, 'f', -1, 64), nil
}

func (c *Commander) WriteValue(ctx context.Context, handle string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reg, err := sunspec_modbus.ParseHandle(handle)
	if err != nil {
		return err
	}
	number, err := registerValue(value)
	if err != nil {
		return fmt.Errorf("modbus write %s: %w", handle, err)
	}
	if err := c.client.WriteScaled(reg, number); err != nil {
		return fmt.Errorf("modbus write %s: %w", handle, err)
	}
	c.logger.Debug("modbus: register written", zap.String("handle", handle), zap.Float64("value", number))
	return nil
}

func (c *Commander) Invoke(_ context.Context, procedure string, _ map[string]any) error {
	return fmt.Errorf("%s: %w", procedure, ErrInvokeUnsupported)
}

func registerValue(value string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true":
		return 1, nil
	case "off", "false":
		return 0, nil
	}
	number, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", value)
	}
	return number, nil
}
