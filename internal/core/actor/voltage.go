package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/buffer"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/service"
	. "github.com/berfenger/vcmon2mqtt/internal/util/actorutil"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// VoltagePollerActor samples the pack voltage on the slow cadence.
type VoltagePollerActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	serialActor  *actor.PID
	board        *buffer.Board
	configs      *service.ConfigHolder
	eventStream  *eventstream.EventStream
	readDeadline time.Duration
	cancelTick   scheduler.CancelFunc

	logger *zap.Logger
}

type voltageTick struct {
}

func NewVoltagePollerActor(serialActor *actor.PID, board *buffer.Board, configs *service.ConfigHolder, readDeadline time.Duration,
	eventStream *eventstream.EventStream, logger *zap.Logger) *VoltagePollerActor {
	if readDeadline <= 0 {
		readDeadline = vcmon.DefaultReadDeadline
	}
	act := &VoltagePollerActor{
		serialActor:  serialActor,
		board:        board,
		configs:      configs,
		readDeadline: readDeadline,
		eventStream:  eventStream,
		behavior:     actor.NewBehavior(),
		stash:        &Stash{},
		logger:       ActorLogger(domain.ACTOR_ID_VOLTAGE, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *VoltagePollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *VoltagePollerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("voltage@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduleTick(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("voltage@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *VoltagePollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("voltage@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_VOLTAGE,
			Healthy: true,
			State:   "idle",
		})
	case voltageTick:
		state.logger.Debug("voltage@default tick")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.serialActor, domain.ExchangeRequest{Command: vcmon.CmdTotalVoltage},
			state.readDeadline+exchangeTimeoutMargin), func(err error) any {
			return domain.ExchangeResponse{
				ActorResponseMixIn: domain.Failed(err),
				Command:            vcmon.CmdTotalVoltage,
			}
		})
		state.behavior.BecomeStacked(state.WaitingVoltageReceive)
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("voltage@default: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *VoltagePollerActor) WaitingVoltageReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_VOLTAGE,
			Healthy: true,
			State:   "polling",
		})
	case domain.ExchangeResponse:
		total, err := decodeReply(msg, func(lines []string) (*float64, error) {
			v, err := vcmon.DecodeTotalVoltage(lines)
			if err != nil {
				return nil, err
			}
			return &v, nil
		})
		if err != nil {
			failure := classifyFailure(err)
			if failure == domain.NotConnected {
				state.logger.Debug("voltage@waiting: not connected")
			} else {
				state.logger.Warn("voltage@waiting: sample failed", zap.Stringer("failure", failure), zap.Error(err))
			}
			state.publish(domain.PollFailed{
				Poller:  domain.ACTOR_ID_VOLTAGE,
				Command: vcmon.CmdTotalVoltage.Name,
				Failure: failure,
				Error:   err,
			})
		} else {
			sample := domain.VoltageSample{
				Timestamp:     time.Now(),
				TotalVoltage:  *total,
				StateOfCharge: service.LinearSoC(*total, state.configs.Get()),
			}
			state.logger.Sugar().Debugf("voltage@waiting: %.3fV soc=%.2f", sample.TotalVoltage, sample.StateOfCharge)
			state.board.Voltage.Push(sample)
			state.publish(domain.VoltageSampled{Sample: sample})
		}
		state.scheduleTick(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("voltage@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *VoltagePollerActor) scheduleTick(ctx actor.Context) {
	state.cancelTick = state.scheduler.RequestOnce(state.configs.Get().VoltagePollInterval, ctx.Self(), voltageTick{})
}

func (state *VoltagePollerActor) publish(event any) {
	if state.eventStream != nil {
		state.eventStream.Publish(event)
	}
}

func (state *VoltagePollerActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
}
