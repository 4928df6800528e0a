package actor

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	adactor "github.com/berfenger/vcmon2mqtt/internal/adapter/actor"
	"github.com/berfenger/vcmon2mqtt/internal/adapter/storage"
	"github.com/berfenger/vcmon2mqtt/internal/core/buffer"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/service"
	"github.com/berfenger/vcmon2mqtt/internal/util"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type masterRig struct {
	as      *actor.ActorSystem
	pid     *actor.PID
	sim     *vcmon.SimulatedTransport
	board   *buffer.Board
	configs *service.ConfigHolder
	gateway *storage.MemoryGateway
	engine  *Engine
}

func spawnMaster(t *testing.T) *masterRig {
	as := actor.NewActorSystem()

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	rig := &masterRig{
		as:      as,
		sim:     vcmon.NewSimulatedTransport(vcmon.DefaultSimulatedDevice(), "sim0"),
		board:   buffer.NewBoard(cfg.Buffer.TelemetryCapacity, cfg.Buffer.VoltageCapacity),
		configs: service.NewConfigHolder(cfg.SystemConfig()),
		gateway: storage.NewMemoryGateway(),
	}
	deps := MasterDeps{
		Gateway:     rig.gateway,
		Board:       rig.board,
		Configs:     rig.configs,
		EventStream: &eventstream.EventStream{},
		SerialActorProvider: func(es *eventstream.EventStream) *adactor.SerialActor {
			return adactor.NewSerialActor(rig.sim, cfg.Serial.ReadDeadline(), es, logger)
		},
		MQTTActorProvider: func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, logger)
		},
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, deps, logger)
	})
	pid, err := as.Root.SpawnNamed(props, "master")
	if err != nil {
		t.Fatal(err)
	}
	rig.pid = pid
	rig.engine = NewEngine(as.Root, pid, rig.board, rig.configs, rig.gateway, rig.sim)
	return rig
}

func (rig *masterRig) shutdown() {
	rig.as.Root.Stop(rig.pid)
	time.Sleep(100 * time.Millisecond)
	rig.as.Shutdown()
}

func TestMasterActor(t *testing.T) {

	rig := spawnMaster(t)
	defer rig.shutdown()
	context := rig.as.Root

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(rig.pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")
	assert.Equal(t, domain.ACTOR_ID_MASTER, healthResp.Id)

	// auto connect polls the simulated device
	assert.Equal(t, vcmon.Connected, rig.sim.State())
	assert.Positive(t, rig.board.Telemetry.Len())
	assert.Positive(t, rig.board.Voltage.Len())

	// the seed config was stored on first start
	stored, err := rig.gateway.GetConfig(contextWithTimeout(t))
	if assert.NoError(t, err) {
		assert.NotZero(t, stored.ID)
		assert.Equal(t, stored.ID, rig.configs.Get().ID)
	}
}

func TestMasterApplyConfig(t *testing.T) {

	assert := assert.New(t)

	rig := spawnMaster(t)
	defer rig.shutdown()
	context := rig.as.Root

	time.Sleep(500 * time.Millisecond)
	previous := rig.configs.Get()

	cfg := previous
	cfg.ChargeLimitSoC = 80
	res, err := context.RequestFuture(rig.pid, domain.ApplyConfigRequest{Config: cfg}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := res.(domain.ApplyConfigResponse)
	assert.False(resp.HasResponseError())
	assert.Equal(80.0, rig.configs.Get().ChargeLimitSoC)
	assert.Greater(rig.configs.Get().ID, previous.ID)

	res, err = context.RequestFuture(rig.pid, domain.PatchConfigRequest{Field: domain.INPUT_NUMBER_ID_LOW_VOLTAGE, Value: 10.5}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.False(res.(domain.ApplyConfigResponse).HasResponseError())
	assert.Equal(10.5, rig.configs.Get().LowVoltageThreshold)
	assert.Equal(80.0, rig.configs.Get().ChargeLimitSoC)

	// out of range values leave the active config in place
	res, err = context.RequestFuture(rig.pid, domain.PatchConfigRequest{Field: domain.INPUT_NUMBER_ID_CHARGE_LIMIT_SOC, Value: 150}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(res.(domain.ApplyConfigResponse).HasResponseError())
	assert.Equal(80.0, rig.configs.Get().ChargeLimitSoC)

	res, err = context.RequestFuture(rig.pid, domain.PatchConfigRequest{Field: "unknown", Value: 1}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(res.(domain.ApplyConfigResponse).HasResponseError())
}

func TestPatchSystemConfig(t *testing.T) {

	cfg := domain.DefaultSystemConfig()

	patched, err := patchSystemConfig(cfg, domain.INPUT_NUMBER_ID_PV_OK_THRESHOLD, 6.5)
	assert.NoError(t, err)
	assert.Equal(t, 6.5, patched.PVOkThreshold)
	assert.Equal(t, cfg.ChargeLimitSoC, patched.ChargeLimitSoC)

	_, err = patchSystemConfig(cfg, "charge_relay", 1)
	assert.Error(t, err)

	// a non-finite charge limit never becomes active
	patched, err = patchSystemConfig(cfg, domain.INPUT_NUMBER_ID_CHARGE_LIMIT_SOC, math.NaN())
	assert.NoError(t, err)
	assert.Error(t, patched.Validate())
}

func TestLoadSystemConfig(t *testing.T) {

	gateway := storage.NewMemoryGateway()
	seed := domain.DefaultSystemConfig()

	loaded := loadSystemConfig(gateway, seed)
	assert.NoError(t, loaded.err)
	assert.NotZero(t, loaded.config.ID)

	// a stored config wins over the seed
	seed.ChargeLimitSoC = 70
	again := loadSystemConfig(gateway, seed)
	assert.NoError(t, again.err)
	assert.Equal(t, loaded.config.ID, again.config.ID)
	assert.Equal(t, loaded.config.ChargeLimitSoC, again.config.ChargeLimitSoC)
}

func contextWithTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
