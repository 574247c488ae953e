package sunspec_modbus

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/simonvetter/modbus"
)

const HANDLE_PREFIX = "modbus:"

// Register addresses a signed holding register, optionally paired with a
// SunSpec scale factor register (value = raw * 10^sf).
type Register struct {
	Address            uint16
	ScaleFactorAddress uint16
	HasScaleFactor     bool
}

func IsHandle(handle string) bool {
	return strings.HasPrefix(handle, HANDLE_PREFIX)
}

// ParseHandle accepts "modbus:<addr>" and "modbus:<addr>:<sf_addr>".
func ParseHandle(handle string) (Register, error) {
	if !IsHandle(handle) {
		return Register{}, fmt.Errorf("not a modbus handle: %s", handle)
	}
	parts := strings.Split(strings.TrimPrefix(handle, HANDLE_PREFIX), ":")
	if len(parts) < 1 || len(parts) > 2 {
		return Register{}, fmt.Errorf("invalid modbus handle: %s", handle)
	}
	addr, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return Register{}, fmt.Errorf("invalid modbus register in %s: %w", handle, err)
	}
	reg := Register{Address: uint16(addr)}
	if len(parts) == 2 {
		sf, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return Register{}, fmt.Errorf("invalid scale factor register in %s: %w", handle, err)
		}
		reg.ScaleFactorAddress = uint16(sf)
		reg.HasScaleFactor = true
	}
	return reg, nil
}

func NewRegisterClient(host string, port uint, unitId uint8, timeout time.Duration,
	instrumentation *ModbusInstrument) (*ModbusClient, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	// set unit address
	if unitId > 0 {
		err = client.SetUnitId(unitId)
		if err != nil {
			return nil, err
		}
	}
	return newModbusClient(client, instrumentation), nil
}

func newModbusClient(client registerIO, instrumentation *ModbusInstrument) *ModbusClient {
	var inst []ModbusInstrument
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return &ModbusClient{
		client:     client,
		instrument: inst,
	}
}

// ReadScaled reads a register as int16 and applies its scale factor.
func (reader *ModbusClient) ReadScaled(reg Register) (float64, error) {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if err := reader.ensureOpen(); err != nil {
		return 0, err
	}
	raw, err := reader.readRegister(reg.Address, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	sf, err := reader.scaleFactor(reg)
	if err != nil {
		return 0, err
	}
	return reader.applySFint16(int16(raw), sf), nil
}

// WriteScaled writes value / 10^sf, rounded, as a signed 16 bit register.
func (reader *ModbusClient) WriteScaled(reg Register, value float64) error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if err := reader.ensureOpen(); err != nil {
		return err
	}
	sf, err := reader.scaleFactor(reg)
	if err != nil {
		return err
	}
	scaled := math.Round(reader.applySFfloat64Inv(value, sf))
	if scaled < math.MinInt16 || scaled > math.MaxInt16 {
		return errors.New("value out of register range")
	}
	return reader.writeRegister(reg.Address, uint16(int16(scaled)))
}

func (reader *ModbusClient) scaleFactor(reg Register) (uint16, error) {
	if !reg.HasScaleFactor {
		return 0, nil
	}
	return reader.readRegister(reg.ScaleFactorAddress, modbus.HOLDING_REGISTER)
}
