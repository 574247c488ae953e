package sunspec_modbus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/simonvetter/modbus"
)

var ErrBankFailure = errors.New("register bank failure")

// RegisterBank is an in-memory register map standing in for a device.
type RegisterBank struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	failing   map[uint16]bool
	opens     int
}

func NewRegisterBank() *RegisterBank {
	return &RegisterBank{
		registers: map[uint16]uint16{},
		failing:   map[uint16]bool{},
	}
}

// NewTestRegisterClient returns a client backed by bank.
func NewTestRegisterClient(bank *RegisterBank, instrumentation *ModbusInstrument) *ModbusClient {
	return newModbusClient(bank, instrumentation)
}

func (b *RegisterBank) Set(addr uint16, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registers[addr] = value
}

func (b *RegisterBank) Get(addr uint16) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registers[addr]
}

func (b *RegisterBank) Fail(addr uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing[addr] = true
}

func (b *RegisterBank) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

func (b *RegisterBank) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	return nil
}

func (b *RegisterBank) Close() error {
	return nil
}

func (b *RegisterBank) ReadRegister(addr uint16, _ modbus.RegType) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing[addr] {
		return 0, fmt.Errorf("read %d: %w", addr, ErrBankFailure)
	}
	return b.registers[addr], nil
}

func (b *RegisterBank) ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error) {
	values := make([]uint16, 0, quantity)
	for i := uint16(0); i < quantity; i++ {
		v, err := b.ReadRegister(addr+i, regType)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (b *RegisterBank) WriteRegister(addr uint16, value uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing[addr] {
		return fmt.Errorf("write %d: %w", addr, ErrBankFailure)
	}
	b.registers[addr] = value
	return nil
}
