package actor

import (
	"testing"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestVoltagePoller(t *testing.T) {

	assert := assert.New(t)

	rig := newPollerRig(t, true, nil)
	defer rig.shutdown()

	logger := zap.Must(zap.NewDevelopment())
	cfg := rig.configs.Get()
	cfg.VoltagePollInterval = 200 * time.Millisecond
	assert.NoError(rig.configs.Replace(cfg))

	pid := rig.as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewVoltagePollerActor(rig.serial, rig.board, rig.configs, 200*time.Millisecond, rig.es, logger)
	}))
	defer rig.as.Root.Stop(pid)

	time.Sleep(700 * time.Millisecond)

	sample, ok := rig.board.Voltage.Latest()
	if !assert.True(ok) {
		return
	}
	assert.InDelta(rig.sim.Device().TotalVoltage(), sample.TotalVoltage, 0.01)
	assert.InDelta(90.0, sample.StateOfCharge, 0.5)

	var sampled int
	for _, ev := range rig.received() {
		if _, ok := ev.(domain.VoltageSampled); ok {
			sampled++
		}
	}
	assert.Positive(sampled)

	hcr, err := healthCheck(rig.as.Root, pid)
	if assert.NoError(err) {
		assert.True(hcr.Healthy)
		assert.Equal(domain.ACTOR_ID_VOLTAGE, hcr.Id)
	}
}
