package actor

import (
	"context"
	"testing"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/stretchr/testify/assert"
)

func TestEngine(t *testing.T) {

	assert := assert.New(t)

	rig := spawnMaster(t)
	defer rig.shutdown()
	engine := rig.engine

	time.Sleep(1500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	health, err := engine.Health(ctx)
	assert.NoError(err)
	assert.True(health.Healthy)

	assert.Equal(vcmon.Connected, engine.State())
	assert.True(engine.AutoControl())

	ports, err := engine.Ports()
	assert.NoError(err)
	assert.Equal([]string{"sim0"}, ports)

	snap := engine.Snapshot()
	assert.Equal("connected", snap.Connection)
	assert.NotNil(snap.Measurement)
	assert.NotNil(snap.Voltage)
	assert.NotNil(snap.Decision)
	assert.Equal(rig.configs.Get(), snap.Config)

	measurements := engine.Measurements(2)
	assert.LessOrEqual(len(measurements), 2)
	assert.NotEmpty(measurements)

	lines, err := engine.Raw(ctx, vcmon.CmdBatteryVoltage.Name)
	assert.NoError(err)
	assert.NotEmpty(lines)

	_, err = engine.Raw(ctx, "self_destruct")
	assert.ErrorIs(err, domain.ErrUnknownCommand)

	_, err = engine.Raw(ctx, vcmon.CmdHalogenOn.Name)
	assert.ErrorIs(err, domain.ErrRelayCommand)

	assert.ErrorIs(engine.SetRelay(7, domain.RelayOn), domain.ErrUnknownRelay)
	assert.NoError(engine.SetRelay(domain.RelayPilotLamp, domain.RelayOn))

	bad := engine.Config()
	bad.ChargeLimitSoC = -1
	assert.Error(engine.ApplyConfig(bad))

	engine.SetAutoControl(false)
	assert.Eventually(func() bool { return !engine.AutoControl() }, 2*time.Second, 50*time.Millisecond)

	actions, err := engine.Actions(ctx, 10)
	assert.NoError(err)
	assert.NotEmpty(actions)

	history, err := engine.History(ctx, time.Now().Add(-time.Minute), time.Now(), 100)
	assert.NoError(err)
	assert.NotEmpty(history)

	engine.Disconnect()
	assert.Eventually(func() bool { return engine.State() == vcmon.Disconnected }, 2*time.Second, 50*time.Millisecond)
}
