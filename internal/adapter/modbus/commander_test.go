package modbus

import (
	"context"
	"errors"
	"testing"

	"github.com/berfenger/battexec/pkg/sunspec_modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCommander() (*Commander, *sunspec_modbus.RegisterBank) {
	bank := sunspec_modbus.NewRegisterBank()
	client := sunspec_modbus.NewTestRegisterClient(bank, Instrumentation())
	return NewCommanderWithClient(client, zap.NewNop()), bank
}

func TestWriteNumericWithScaleFactor(t *testing.T) {
	commander, bank := newTestCommander()
	bank.Set(201, uint16(0xFFFF)) // sf = -1

	require.NoError(t, commander.WriteValue(context.Background(), "modbus:200:201", "2000"))
	assert.Equal(t, uint16(20000), bank.Get(200))

	state, err := commander.ReadState(context.Background(), "modbus:200:201")
	require.NoError(t, err)
	assert.Equal(t, "2000", state)
}

func TestWriteSwitchPayload(t *testing.T) {
	commander, bank := newTestCommander()

	require.NoError(t, commander.WriteValue(context.Background(), "modbus:10", "on"))
	assert.Equal(t, uint16(1), bank.Get(10))
	require.NoError(t, commander.WriteValue(context.Background(), "modbus:10", "OFF"))
	assert.Equal(t, uint16(0), bank.Get(10))
}

func TestRejectsNonNumericValues(t *testing.T) {
	commander, _ := newTestCommander()
	err := commander.WriteValue(context.Background(), "modbus:10", "Maximize Self Consumption")
	assert.Error(t, err)

	err = commander.WriteValue(context.Background(), "number.charge", "1")
	assert.Error(t, err)
}

func TestRegisterFailureSurfaces(t *testing.T) {
	commander, bank := newTestCommander()
	bank.Fail(10)
	err := commander.WriteValue(context.Background(), "modbus:10", "1")
	assert.True(t, errors.Is(err, sunspec_modbus.ErrBankFailure))
}

func TestInvokeUnsupported(t *testing.T) {
	commander, _ := newTestCommander()
	err := commander.Invoke(context.Background(), "forcible_charge", nil)
	assert.True(t, errors.Is(err, ErrInvokeUnsupported))
}

func TestCancelledContext(t *testing.T) {
	commander, bank := newTestCommander()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, commander.WriteValue(ctx, "modbus:10", "1"))
	assert.Equal(t, uint16(0), bank.Get(10))
}
