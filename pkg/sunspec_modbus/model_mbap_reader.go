package sunspec_modbus

import (
	"math"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
)

// registerIO is the subset of *modbus.ModbusClient used here.
type registerIO interface {
	Open() error
	Close() error
	ReadRegister(addr uint16, regType modbus.RegType) (uint16, error)
	ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error)
	WriteRegister(addr uint16, value uint16) error
}

// ModbusClient is safe for concurrent use. The underlying connection is
// opened lazily and reopened after a failed transaction.
type ModbusClient struct {
	mu         sync.Mutex
	client     registerIO
	open       bool
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func (reader *ModbusClient) applySFint16(number int16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func (reader *ModbusClient) applySFfloat64Inv(number float64, sf uint16) float64 {
	return number / math.Pow(10, float64(int16(sf)))
}

func (reader *ModbusClient) ensureOpen() error {
	if reader.open {
		return nil
	}
	defer RecordTimer("Open", reader.instrument)()
	if err := reader.client.Open(); err != nil {
		return err
	}
	reader.open = true
	return nil
}

// failed drops the connection so the next call reconnects.
func (reader *ModbusClient) failed(err error) error {
	if err != nil && reader.open {
		_ = reader.client.Close()
		reader.open = false
	}
	return err
}

func (reader *ModbusClient) readRegister(addr uint16, regType modbus.RegType) (uint16, error) {
	defer RecordTimer("ReadRegister", reader.instrument)()
	value, err := reader.client.ReadRegister(addr, regType)
	return value, reader.failed(err)
}

func (reader *ModbusClient) readRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error) {
	defer RecordTimer("ReadRegisters", reader.instrument)()
	values, err := reader.client.ReadRegisters(addr, quantity, regType)
	return values, reader.failed(err)
}

func (reader *ModbusClient) writeRegister(addr uint16, value uint16) error {
	defer RecordTimer("WriteRegister", reader.instrument)()
	return reader.failed(reader.client.WriteRegister(addr, value))
}

func (reader *ModbusClient) Close() error {
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if !reader.open {
		return nil
	}
	reader.open = false
	return reader.client.Close()
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}
