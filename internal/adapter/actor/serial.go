package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/util/actorutil"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

const (
	openTimeout    = 5 * time.Second
	exchangeMargin = 1 * time.Second
)

// SerialActor owns the transport. It runs one exchange at a time and stashes
// everything else until the exchange has both answered and returned. A task
// that times out still holds the transport, so the port is closed to abort it
// and the next exchange waits for it to return.
type SerialActor struct {
	behavior     actor.Behavior
	stash        *actorutil.Stash
	transport    vcmon.Transport
	readDeadline time.Duration
	instrument   []vcmon.Instrument
	eventStream  *eventstream.EventStream
	lastState    vcmon.ConnectionState
	task         pendingTask
	logger       *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

// taskSettled is sent once the task body is done with the transport.
type taskSettled struct {
}

type pendingTask struct {
	answered bool
	settled  bool
}

func NewSerialActor(transport vcmon.Transport, readDeadline time.Duration, eventStream *eventstream.EventStream,
	logger *zap.Logger, instrument ...vcmon.Instrument) *SerialActor {
	if readDeadline <= 0 {
		readDeadline = vcmon.DefaultReadDeadline
	}
	act := &SerialActor{
		transport:    transport,
		readDeadline: readDeadline,
		instrument:   instrument,
		eventStream:  eventStream,
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		logger:       actorutil.ActorLogger(domain.ACTOR_ID_SERIAL, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *SerialActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *SerialActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("serial@default started")
		state.lastState = state.transport.State()
	case domain.ActorHealthRequest:
		state.logger.Debug("serial@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SERIAL,
			Healthy: true,
			State:   state.transport.State().String(),
		})
	case domain.ExchangeRequest:
		state.logger.Debug("serial@default: ExchangeRequest", zap.String("command", msg.Command.Name))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		deadline := msg.Deadline
		if deadline <= 0 {
			deadline = state.readDeadline
		}
		cmd := msg.Command

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.ExchangeResponse {
			lines, err := vcmon.Exchange(state.transport, cmd, deadline, state.instrument...)
			return &domain.ExchangeResponse{
				ActorResponseMixIn: domain.Failed(err),
				Command:            cmd,
				Lines:              lines,
				State:              state.transport.State(),
			}
		}), mapTaskResult[domain.ExchangeResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ExchangeResponse{
					ActorResponseMixIn: domain.Failed(err),
					Command:            cmd,
					State:              state.transport.State(),
				},
				replyTo: sender,
			}
		}).OnSettled(state.notifySettled(ctx)).WithTimeout(deadline + exchangeMargin).PipeTo(ctx.Self())
		state.task = pendingTask{}
		state.behavior.BecomeStacked(state.WaitingExchange)
	case domain.OpenPortRequest:
		state.logger.Info("serial@default: OpenPortRequest", zap.String("port", msg.Port))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		port := msg.Port
		state.publishState(vcmon.Connecting)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.OpenPortResponse {
			err := state.transport.Open(port)
			return &domain.OpenPortResponse{
				ActorResponseMixIn: domain.Failed(err),
				Port:               port,
				State:              state.transport.State(),
			}
		}), mapTaskResult[domain.OpenPortResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.OpenPortResponse{
					ActorResponseMixIn: domain.Failed(err),
					Port:               port,
					State:              state.transport.State(),
				},
				replyTo: sender,
			}
		}).OnSettled(state.notifySettled(ctx)).WithTimeout(openTimeout).PipeTo(ctx.Self())
		state.task = pendingTask{}
		state.behavior.BecomeStacked(state.WaitingExchange)
	case domain.ClosePortRequest:
		state.logger.Info("serial@default: ClosePortRequest")
		actorutil.ForRequest(msg).Respond(ctx, state.close())
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("serial@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *SerialActor) WaitingExchange(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("serial@waitingExchange backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if resp, ok := msg.message.(domain.ActorResponse); ok && resp.HasResponseError() {
			state.logger.Warn("serial@waitingExchange failed", zap.Error(resp.GetResponseError()))
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.task.answered = true
		if !state.task.settled {
			state.logger.Warn("serial@waitingExchange task still running after timeout, closing transport")
			state.close()
		}
		state.finishTask(ctx)
	case taskSettled:
		state.task.settled = true
		state.finishTask(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SERIAL,
			Healthy: true,
			State:   "exchanging",
		})
	case domain.ClosePortRequest:
		// closing aborts the pending read, the exchange result follows
		state.logger.Info("serial@waitingExchange: ClosePortRequest")
		actorutil.ForRequest(msg).Respond(ctx, state.close())
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("serial@waitingExchange stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *SerialActor) finishTask(ctx actor.Context) {
	if !state.task.answered || !state.task.settled {
		return
	}
	state.publishState(state.transport.State())
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *SerialActor) notifySettled(ctx actor.Context) func() {
	system, self := ctx.ActorSystem(), ctx.Self()
	return func() {
		system.Root.Send(self, taskSettled{})
	}
}

func (state *SerialActor) close() domain.ClosePortResponse {
	err := state.transport.Close()
	if err != nil {
		state.logger.Warn("serial: close failed", zap.Error(err))
	}
	state.publishState(state.transport.State())
	return domain.ClosePortResponse{
		ActorResponseMixIn: domain.Failed(err),
		State:              state.transport.State(),
	}
}

func (state *SerialActor) publishState(current vcmon.ConnectionState) {
	if current == state.lastState {
		return
	}
	state.logger.Sugar().Infof("serial: link %s -> %s", state.lastState, current)
	state.lastState = current
	if state.eventStream != nil {
		state.eventStream.Publish(domain.ConnectionStateChanged{
			State: current,
			Port:  state.transport.Identifier(),
		})
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
