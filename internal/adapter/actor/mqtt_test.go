package actor

import (
	"testing"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/util"
	"github.com/berfenger/vcmon2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, &es, logger) })
	pid := context.Spawn(props)

	time.Sleep(500 * time.Millisecond)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)

	es.Publish(domain.MeasurementRecorded{Measurement: domain.Measurement{PVVoltage: 18.2, TotalVoltage: 12.1}})
	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_PV_POWER,
		},
		Value: 345.32,
	})

	result, err = context.RequestFuture(pid, domain.PublishSensorUpdateRequest{}, 2*time.Second).Result()
	assert.NoError(t, err)
	_, ok = result.(domain.PublishSensorUpdateResponse)
	assert.True(t, ok)

	context.Stop(pid)

	time.Sleep(200 * time.Millisecond)

	as.Shutdown()
}

func TestEventStreamToSensorUpdates(t *testing.T) {

	assert := assert.New(t)

	updates := eventStreamToSensorUpdates(domain.AutoControlChanged{Enabled: true})
	assert.Len(updates, 1)
	assert.Equal(domain.SWITCH_ID_AUTO_CONTROL, updates[0].SensorId())

	updates = eventStreamToSensorUpdates(domain.BridgeStateUpdateEvent{Value: true})
	assert.Len(updates, 1)

	assert.Empty(eventStreamToSensorUpdates(struct{}{}))
}
