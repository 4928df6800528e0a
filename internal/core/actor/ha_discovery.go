package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/config"
	"github.com/berfenger/vcmon2mqtt/internal/core/buffer"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/service"
	"github.com/berfenger/vcmon2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	haDiscoveryMaxAttempts = 5
	haDiscoveryRetryDelay  = 2 * time.Second
)

type HADiscoveryActor struct {
	config      *config.Config
	behavior    actor.Behavior
	stash       *actorutil.Stash
	scheduler   *scheduler.TimerScheduler
	mqttActor   *actor.PID
	configs     *service.ConfigHolder
	board       *buffer.Board
	eventStream *eventstream.EventStream
	attempts    int

	logger *zap.Logger
}

type haDiscoveryRetry struct {
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, configs *service.ConfigHolder, board *buffer.Board,
	eventStream *eventstream.EventStream, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		mqttActor:   mqttActor,
		configs:     configs,
		board:       board,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.checkMQTT(ctx)
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			if state.attempts >= haDiscoveryMaxAttempts {
				panic(errors.New("MQTT Actor is not healthy"))
			}
			state.scheduler.RequestOnce(haDiscoveryRetryDelay, ctx.Self(), haDiscoveryRetry{})
			return
		}
		state.publishDiscovery(ctx)
		state.behavior.Become(state.Done)
		state.stash.UnstashAll(ctx)
	case haDiscoveryRetry:
		state.checkMQTT(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   "done",
		})
	}
}

func (state *HADiscoveryActor) checkMQTT(ctx actor.Context) {
	state.attempts++
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, haDiscoveryRetryDelay), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
		}
	})
}

func (state *HADiscoveryActor) publishDiscovery(ctx actor.Context) {
	cfg := state.configs.Get()

	var sensors []domain.GenericSensor

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	monitorDevice := domain.MonitorDevice(cfg.PortIdentifier)
	monitorDevice.ViaDevice = bridgeDevice.Id
	monitorSensors := domain.MonitorSensors(monitorDevice)
	for i := range monitorSensors {
		if i > 0 {
			monitorSensors[i].Device = domain.IdDevice(monitorDevice)
		}
		sensors = append(sensors, monitorSensors[i])
	}

	switches := domain.RelaySwitches(domain.IdDevice(monitorDevice))
	inputNumbers := domain.ControlInputNumbers(domain.IdDevice(monitorDevice), cfg)

	state.logger.Sugar().Infof("hadiscovery@healthcheck: publishing %d sensors, %d switches, %d numbers",
		len(sensors), len(switches), len(inputNumbers))
	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		Switches:     switches,
		InputNumbers: inputNumbers,
	})

	// initial entity states
	state.eventStream.Publish(domain.ConfigApplied{Config: cfg})
	state.eventStream.Publish(domain.AutoControlChanged{Enabled: state.board.AutoControl()})
	if status, ok := state.board.Status.Get(); ok {
		state.eventStream.Publish(domain.StatusUpdated{Status: status})
	}
}
