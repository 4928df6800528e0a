package actor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/vcmon2mqtt/internal/adapter/actor"
	"github.com/berfenger/vcmon2mqtt/internal/config"
	"github.com/berfenger/vcmon2mqtt/internal/core/buffer"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/port"
	"github.com/berfenger/vcmon2mqtt/internal/core/service"
	. "github.com/berfenger/vcmon2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type SerialActorProvider func(*eventstream.EventStream) *adactor.SerialActor

// MasterDeps are the shared services the master hands to its children.
// MQTTActorProvider may be nil when MQTT is disabled.
type MasterDeps struct {
	Gateway             port.PersistenceGateway
	Board               *buffer.Board
	Configs             *service.ConfigHolder
	EventStream         *eventstream.EventStream
	Logic               port.ControlLogic
	SerialActorProvider SerialActorProvider
	MQTTActorProvider   MQTTActorProvider
}

type MasterOfPuppetsActor struct {
	config   config.Config
	deps     MasterDeps
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	serialActor        *actor.PID
	telemetryActor     *actor.PID
	voltageActor       *actor.PID
	mqttActor          *actor.PID
	logger             *zap.Logger
}

type healthCheckResult struct {
	healthy        map[string]bool
	expected       int
	checksReceived int
	respondTo      *actor.PID
}

type configLoaded struct {
	config domain.SystemConfig
	err    error
}

type configSaved struct {
	config  domain.SystemConfig
	err     error
	replyTo *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, deps MasterDeps, logger *zap.Logger) *MasterOfPuppetsActor {
	if deps.EventStream == nil {
		deps.EventStream = &eventstream.EventStream{}
	}
	if deps.Logic == nil {
		deps.Logic = service.DefaultControlLogic{}
	}
	act := &MasterOfPuppetsActor{
		config:   config,
		deps:     deps,
		behavior: actor.NewBehavior(),
		stash:    &Stash{},
		logger:   ActorLogger(domain.ACTOR_ID_MASTER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset(0)

		// the stored config wins over the seed from the config file
		gateway := state.deps.Gateway
		seed := state.config.SystemConfig()
		NewBackgroundTaskNoError(ctx, func() *configLoaded {
			return loadSystemConfig(gateway, seed)
		}).Recover(func(err error) configLoaded {
			return configLoaded{config: seed, err: err}
		}).WithTimeout(10 * time.Second).PipeTo(ctx.Self())
	case configLoaded:
		if msg.err != nil {
			state.logger.Error("master@starting could not load stored config, using seed", zap.Error(msg.err))
		}
		if err := state.deps.Configs.Replace(msg.config); err != nil {
			state.logger.Error("master@starting invalid config, keeping defaults", zap.Error(err))
		}
		state.logger.Info("master@starting config", zap.Any("config", state.deps.Configs.Get()))

		// start serial child
		serialActorPID, err := state.startSerialActor(ctx)
		if err != nil {
			panic(err)
		}
		state.serialActor = serialActorPID

		// start telemetry child
		telemetryActorPID, err := state.startTelemetryActor(ctx)
		if err != nil {
			panic(err)
		}
		state.telemetryActor = telemetryActorPID

		// start voltage child
		voltageActorPID, err := state.startVoltageActor(ctx)
		if err != nil {
			panic(err)
		}
		state.voltageActor = voltageActorPID

		// start MQTT child
		if state.deps.MQTTActorProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID

			// start HA Discovery
			if state.config.MQTT.HADiscoveryEnable {
				_, err := state.startHADiscoveryActor(ctx)
				if err != nil {
					panic(err)
				}
			}
		}

		if state.config.Serial.AutoConnect {
			ctx.Send(state.telemetryActor, domain.ConnectRequest{Port: state.deps.Configs.Get().PortIdentifier})
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		children := state.children()
		state.currentHealthCheck.reset(len(children))
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range children {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.EngineCommand:
		state.logger.Debug("master@default EngineCommand", zap.String("type", fmt.Sprintf("%T", msg)))
		ctx.Forward(state.telemetryActor)
	case domain.ApplyConfigRequest:
		state.logger.Debug("master@default ApplyConfigRequest")
		state.applyConfig(ctx, msg.Config, ForRequest(msg).ReplyTo(ctx))
	case domain.PatchConfigRequest:
		state.logger.Sugar().Debugf("master@default PatchConfigRequest %s=%f", msg.Field, msg.Value)
		cfg, err := patchSystemConfig(state.deps.Configs.Get(), msg.Field, msg.Value)
		if err != nil {
			ForRequest(msg).Respond(ctx, domain.ApplyConfigResponse{
				ActorResponseMixIn: domain.Failed(err),
				Config:             state.deps.Configs.Get(),
			})
			return
		}
		state.applyConfig(ctx, cfg, ForRequest(msg).ReplyTo(ctx))
	case adactor.ParsedCommand:
		// redirect parsedCommand to actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default invalid command", zap.Error(err))
				return
			}
			switch pcmd := cmd.(type) {
			case domain.EngineCommand:
				ctx.Send(state.telemetryActor, pcmd)
			case domain.PatchConfigRequest:
				ctx.Send(ctx.Self(), pcmd)
			}
		}
	case *actor.Terminated:
		// if the serial owner is gone the engine cannot work
		if msg.Who.Id == fmt.Sprintf("%s/%s", ctx.Self().Id, domain.ACTOR_ID_SERIAL) {
			state.logger.Error("master@default serial actor terminated")
			panic(errors.New("serial terminated"))
		}
	default:
		state.logger.Debug("master@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.SetReceiveTimeout(0)
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		state.currentHealthCheck.healthy[msg.Id] = msg.Healthy
		if state.currentHealthCheck.allReceived() {
			ctx.SetReceiveTimeout(0)
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) ApplyingConfigReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case configSaved:
		resp := domain.ApplyConfigResponse{
			ActorResponseMixIn: domain.Failed(msg.err),
			Config:             msg.config,
		}
		if msg.err == nil {
			if err := state.deps.Configs.Replace(msg.config); err != nil {
				resp.ResponseError = err
			} else {
				state.logger.Info("master@applying config applied", zap.Int64("id", msg.config.ID))
				state.deps.EventStream.Publish(domain.ConfigApplied{Config: msg.config})
			}
		} else {
			state.logger.Error("master@applying config not stored", zap.Error(msg.err))
		}
		if !resp.HasResponseError() {
			resp.Config = state.deps.Configs.Get()
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, resp)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@applying stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// applyConfig validates cfg, stores it and swaps it in. An invalid or
// unstored config leaves the active one in place.
func (state *MasterOfPuppetsActor) applyConfig(ctx actor.Context, cfg domain.SystemConfig, replyTo *actor.PID) {
	if err := cfg.Validate(); err != nil {
		state.logger.Warn("master@default config rejected", zap.Error(err))
		if replyTo != nil {
			ctx.Send(replyTo, domain.ApplyConfigResponse{
				ActorResponseMixIn: domain.Failed(err),
				Config:             state.deps.Configs.Get(),
			})
		}
		return
	}
	gateway := state.deps.Gateway
	NewBackgroundTaskNoError(ctx, func() *configSaved {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		saved, err := gateway.SaveConfig(c, cfg)
		return &configSaved{config: saved, err: err, replyTo: replyTo}
	}).Recover(func(err error) configSaved {
		return configSaved{config: cfg, err: err, replyTo: replyTo}
	}).WithTimeout(10 * time.Second).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.ApplyingConfigReceive)
}

func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{
		domain.ACTOR_ID_SERIAL:    state.serialActor,
		domain.ACTOR_ID_TELEMETRY: state.telemetryActor,
		domain.ACTOR_ID_VOLTAGE:   state.voltageActor,
	}
	if state.mqttActor != nil {
		children[domain.ACTOR_ID_MQTT] = state.mqttActor
	}
	return children
}

func (state *MasterOfPuppetsActor) startSerialActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	serialProps := actor.PropsFromProducer(func() actor.Actor {
		return state.deps.SerialActorProvider(state.deps.EventStream)
	}, actor.WithSupervisor(supervisor))
	serialActorPID, err := ctx.SpawnNamed(serialProps, domain.ACTOR_ID_SERIAL)
	if err != nil {
		return nil, err
	}

	return serialActorPID, nil
}

func (state *MasterOfPuppetsActor) startTelemetryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	readDeadline := state.config.Serial.ReadDeadline()
	sender := NewSerialRelaySender(ctx.ActorSystem().Root, state.serialActor, readDeadline)
	pipeline := Pipeline{
		Board:    state.deps.Board,
		Configs:  state.deps.Configs,
		Gateway:  state.deps.Gateway,
		Logic:    state.deps.Logic,
		Executor: service.NewActionExecutor(sender, state.deps.Gateway, state.logger),
	}

	telemetryProps := actor.PropsFromProducer(func() actor.Actor {
		return NewTelemetryPollerActor(state.serialActor, pipeline, readDeadline, state.config.Poll.StatusEvery,
			state.deps.EventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	telemetryActorPID, err := ctx.SpawnNamed(telemetryProps, domain.ACTOR_ID_TELEMETRY)
	if err != nil {
		return nil, err
	}

	return telemetryActorPID, nil
}

func (state *MasterOfPuppetsActor) startVoltageActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	voltageProps := actor.PropsFromProducer(func() actor.Actor {
		return NewVoltagePollerActor(state.serialActor, state.deps.Board, state.deps.Configs, state.config.Serial.ReadDeadline(),
			state.deps.EventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	voltageActorPID, err := ctx.SpawnNamed(voltageProps, domain.ACTOR_ID_VOLTAGE)
	if err != nil {
		return nil, err
	}

	return voltageActorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.deps.Configs, state.deps.Board,
			state.deps.EventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.deps.MQTTActorProvider(state.deps.EventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *healthCheckResult) reset(expected int) {
	state.healthy = map[string]bool{}
	state.expected = expected
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	if len(state.healthy) < state.expected {
		return false
	}
	for _, healthy := range state.healthy {
		if !healthy {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) unhealthy() []string {
	var ids []string
	for id, healthy := range state.healthy {
		if !healthy {
			ids = append(ids, id)
		}
	}
	return ids
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   "running",
	}
	if !resp.Healthy {
		resp.State = fmt.Sprintf("unhealthy: %v", state.unhealthy())
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}

func loadSystemConfig(gateway port.PersistenceGateway, seed domain.SystemConfig) *configLoaded {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stored, err := gateway.GetConfig(ctx)
	if err == nil {
		return &configLoaded{config: *stored}
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return &configLoaded{config: seed, err: err}
	}
	saved, err := gateway.SaveConfig(ctx, seed)
	if err != nil {
		return &configLoaded{config: seed, err: err}
	}
	return &configLoaded{config: saved}
}

func patchSystemConfig(cfg domain.SystemConfig, field string, value float64) (domain.SystemConfig, error) {
	switch field {
	case domain.INPUT_NUMBER_ID_CHARGE_LIMIT_SOC:
		cfg.ChargeLimitSoC = value
	case domain.INPUT_NUMBER_ID_LOW_VOLTAGE:
		cfg.LowVoltageThreshold = value
	case domain.INPUT_NUMBER_ID_PV_OK_THRESHOLD:
		cfg.PVOkThreshold = value
	default:
		return cfg, fmt.Errorf("unknown config field %q", field)
	}
	return cfg, nil
}
