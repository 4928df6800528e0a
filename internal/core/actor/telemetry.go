package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/buffer"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/port"
	"github.com/berfenger/vcmon2mqtt/internal/core/service"
	. "github.com/berfenger/vcmon2mqtt/internal/util/actorutil"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	exchangeTimeoutMargin = 2 * time.Second
	processTimeout        = 10 * time.Second
	commandTimeout        = 10 * time.Second
)

var errNoResponse = errors.New("device did not answer")

// Pipeline is what a telemetry cycle writes to after a successful parse.
type Pipeline struct {
	Board    *buffer.Board
	Configs  *service.ConfigHolder
	Gateway  port.PersistenceGateway
	Logic    port.ControlLogic
	Executor port.ActionExecutor
}

// TelemetryPollerActor runs the k/t(/u) cycle against the serial actor and
// the parse, publish, persist, decide, execute pipeline behind it. Operator
// commands are handled between cycles.
type TelemetryPollerActor struct {
	ActorWithStates
	scheduler     *scheduler.TimerScheduler
	stash         *Stash
	serialActor   *actor.PID
	pipeline      Pipeline
	eventStream   *eventstream.EventStream
	readDeadline  time.Duration
	statusEvery   uint
	ticks         uint
	tickSeq       uint64
	cancelTick    scheduler.CancelFunc
	lastPersisted domain.MeasurementRef

	logger *zap.Logger
}

type telemetryTick struct {
	seq uint64
}

type pollCycle struct {
	id         string
	start      time.Time
	withStatus bool
	solar      *vcmon.SolarReading
	cells      *vcmon.CellVoltages
}

type cycleResult struct {
	measurement domain.Measurement
	persistErr  error
	decision    domain.ControlDecision
	applied     bool
	log         domain.ActionLog
	execErr     error
	taskErr     error
}

type manualRelayResult struct {
	log domain.ActionLog
	err error
}

func NewTelemetryPollerActor(serialActor *actor.PID, pipeline Pipeline, readDeadline time.Duration, statusEvery uint,
	eventStream *eventstream.EventStream, logger *zap.Logger) *TelemetryPollerActor {
	if readDeadline <= 0 {
		readDeadline = vcmon.DefaultReadDeadline
	}
	act := &TelemetryPollerActor{
		serialActor:  serialActor,
		pipeline:     pipeline,
		readDeadline: readDeadline,
		statusEvery:  statusEvery,
		eventStream:  eventStream,
		stash:        &Stash{},
		logger:       ActorLogger(domain.ACTOR_ID_TELEMETRY, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(TPStartingState{
		actor: act,
	})
	return act
}

func (state *TelemetryPollerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type TPStartingState struct {
	ActorState
	actor *TelemetryPollerActor
}

func (state TPStartingState) Name() string {
	return "starting"
}

func (state TPStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("telemetry@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.scheduleTick(ctx, 0)
		state.actor.Become(TPIdleState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.stop()
	default:
		state.actor.logger.Debug("telemetry@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type TPIdleState struct {
	ActorState
	actor *TelemetryPollerActor
}

func (state TPIdleState) Name() string {
	return "idle"
}

func (state TPIdleState) Receive(ctx actor.Context) {
	state.actor.restReceive(ctx, state)
}

// RetryWait state, entered after a failed cycle. It behaves like idle; the
// pending tick is a full interval away.

type TPRetryWaitState struct {
	ActorState
	actor *TelemetryPollerActor
}

func (state TPRetryWaitState) Name() string {
	return "retryWait"
}

func (state TPRetryWaitState) Receive(ctx actor.Context) {
	state.actor.restReceive(ctx, state)
}

func (state *TelemetryPollerActor) restReceive(ctx actor.Context, current ActorState) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Sugar().Debugf("telemetry@%s: ActorHealthRequest", current.Name())
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   current.Name(),
		})
	case telemetryTick:
		if msg.seq != state.tickSeq {
			state.logger.Sugar().Debugf("telemetry@%s: stale tick %d", current.Name(), msg.seq)
			return
		}
		state.startCycle(ctx)
	case domain.ConnectRequest:
		port := msg.Port
		if port == "" {
			port = state.pipeline.Configs.Get().PortIdentifier
		}
		state.logger.Sugar().Infof("telemetry@%s: connect %s", current.Name(), port)
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.serialActor, domain.OpenPortRequest{Port: port}, commandTimeout), func(err error) any {
			return domain.OpenPortResponse{
				ActorResponseMixIn: domain.Failed(err),
				Port:               port,
			}
		})
		state.BecomeStacked(TPCommandState{
			actor:   state,
			replyTo: ForRequest(msg).ReplyTo(ctx),
		})
	case domain.DisconnectRequest:
		state.logger.Sugar().Infof("telemetry@%s: disconnect", current.Name())
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.serialActor, domain.ClosePortRequest{}, commandTimeout), func(err error) any {
			return domain.ClosePortResponse{
				ActorResponseMixIn: domain.Failed(err),
			}
		})
		state.BecomeStacked(TPCommandState{
			actor:   state,
			replyTo: ForRequest(msg).ReplyTo(ctx),
		})
	case domain.RawCommandRequest:
		if domain.IsRelayCommand(msg.Command) {
			ForRequest(msg).Respond(ctx, domain.RawCommandResponse{
				ActorResponseMixIn: domain.Failed(domain.ErrRelayCommand),
			})
			return
		}
		cmd := msg.Command
		state.logger.Sugar().Infof("telemetry@%s: raw command %s", current.Name(), cmd)
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.serialActor, domain.ExchangeRequest{Command: cmd},
			state.readDeadline+exchangeTimeoutMargin), func(err error) any {
			return domain.ExchangeResponse{
				ActorResponseMixIn: domain.Failed(err),
				Command:            cmd,
			}
		})
		state.BecomeStacked(TPCommandState{
			actor:   state,
			replyTo: ForRequest(msg).ReplyTo(ctx),
		})
	case domain.SetRelayRequest:
		if _, err := msg.Channel.Command(msg.State); err != nil {
			ForRequest(msg).Respond(ctx, domain.SetRelayResponse{
				ActorResponseMixIn: domain.Failed(err),
			})
			return
		}
		state.logger.Sugar().Infof("telemetry@%s: set relay %s %s", current.Name(), msg.Channel.Name(), msg.State)
		executor := state.pipeline.Executor
		channel, relayState, causedBy := msg.Channel, msg.State, state.lastPersisted
		NewBackgroundTaskNoError(ctx, func() *manualRelayResult {
			c, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			log, err := executor.SetRelay(c, channel, relayState, causedBy)
			return &manualRelayResult{log: log, err: err}
		}).Recover(func(err error) manualRelayResult {
			return manualRelayResult{err: err}
		}).WithTimeout(commandTimeout).PipeTo(ctx.Self())
		state.BecomeStacked(TPCommandState{
			actor:   state,
			replyTo: ForRequest(msg).ReplyTo(ctx),
		})
	case domain.SetAutoControlRequest:
		state.logger.Sugar().Infof("telemetry@%s: auto control %t", current.Name(), msg.Enabled)
		state.pipeline.Board.SetAutoControl(msg.Enabled)
		state.publish(domain.AutoControlChanged{Enabled: msg.Enabled})
		ForRequest(msg).Respond(ctx, domain.SetAutoControlResponse{Enabled: msg.Enabled})
	case *actor.Stopping:
		state.stop()
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Sugar().Debugf("telemetry@%s: recv %T", current.Name(), msg)
	}
}

// Polling state: one exchange in flight, the cycle's phase is the command
// waiting for its reply.

type TPPollingState struct {
	ActorState
	actor *TelemetryPollerActor
	cycle pollCycle
	phase vcmon.Command
}

func (state TPPollingState) Name() string {
	return "polling"
}

func (state TPPollingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.ExchangeResponse:
		if msg.Command.Token != state.phase.Token {
			state.actor.logger.Debug("telemetry@polling: unexpected reply", zap.String("command", msg.Command.Name))
			return
		}
		state.onReply(ctx, msg)
	case *actor.Stopping:
		state.actor.stop()
	case *actor.Restarting:
		state.actor.stop()
	default:
		state.actor.logger.Debug("telemetry@polling: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state TPPollingState) onReply(ctx actor.Context, msg domain.ExchangeResponse) {
	a := state.actor
	switch state.phase.Token {
	case vcmon.CmdVCMonData.Token:
		solar, err := decodeReply(msg, vcmon.DecodeSolar)
		if err != nil {
			a.failCycle(ctx, state.phase, err)
			return
		}
		state.cycle.solar = solar
		a.Become(state.next(ctx, vcmon.CmdAllVoltages))
	case vcmon.CmdAllVoltages.Token:
		cells, err := decodeReply(msg, vcmon.DecodeCellVoltages)
		if err != nil {
			a.failCycle(ctx, state.phase, err)
			return
		}
		state.cycle.cells = cells
		if state.cycle.withStatus {
			a.Become(state.next(ctx, vcmon.CmdSystemStatus))
		} else {
			a.process(ctx, state.cycle)
		}
	case vcmon.CmdSystemStatus.Token:
		// a missing status dump does not fail the cycle
		status, err := decodeReply(msg, func(lines []string) (*vcmon.StatusFields, error) {
			if st, ok := vcmon.DecodeSystemStatus(lines); ok {
				return st, nil
			}
			return nil, &vcmon.ProtocolError{Kind: vcmon.Malformed, Command: vcmon.CmdSystemStatus.Name}
		})
		if err != nil {
			a.logger.Warn("telemetry@polling: status dump unavailable", zap.String("cycle", state.cycle.id), zap.Error(err))
		} else {
			a.pipeline.Board.Status.Set(*status)
			a.publish(domain.StatusUpdated{Status: *status})
		}
		a.process(ctx, state.cycle)
	}
}

func (state TPPollingState) next(ctx actor.Context, cmd vcmon.Command) TPPollingState {
	state.phase = cmd
	return state.OnEnterAction(ctx)
}

func (state TPPollingState) OnEnterAction(ctx actor.Context) TPPollingState {
	cmd := state.phase
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.serialActor, domain.ExchangeRequest{Command: cmd},
		state.actor.readDeadline+exchangeTimeoutMargin), func(err error) any {
		return domain.ExchangeResponse{
			ActorResponseMixIn: domain.Failed(err),
			Command:            cmd,
		}
	})
	return state
}

// Processing state: persist, decide and execute run off the actor goroutine.

type TPProcessingState struct {
	ActorState
	actor *TelemetryPollerActor
	cycle pollCycle
}

func (state TPProcessingState) Name() string {
	return "processing"
}

func (state TPProcessingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   state.Name(),
		})
	case cycleResult:
		a := state.actor
		if msg.taskErr != nil {
			a.logger.Error("telemetry@processing: cycle pipeline failed", zap.String("cycle", state.cycle.id), zap.Error(msg.taskErr))
		}
		if msg.persistErr != nil {
			a.logger.Error("telemetry@processing: measurement not stored", zap.String("cycle", state.cycle.id), zap.Error(msg.persistErr))
		}
		if msg.measurement.Persisted() {
			a.lastPersisted = msg.measurement.Ref()
		}
		a.publish(domain.MeasurementRecorded{
			Measurement:  msg.measurement,
			PersistError: msg.persistErr,
		})
		if msg.taskErr == nil {
			a.pipeline.Board.Decision.Set(msg.decision)
			if msg.applied {
				a.pipeline.Board.LastAction.Set(msg.log)
				a.publish(domain.DecisionApplied{
					Decision: msg.decision,
					Log:      msg.log,
					Error:    msg.execErr,
				})
			}
		}
		elapsed := time.Since(state.cycle.start)
		a.logger.Sugar().Debugf("telemetry@processing: cycle %s done in %s, %s", state.cycle.id, elapsed, msg.decision.Action)
		a.scheduleTick(ctx, max(0, a.pipeline.Configs.Get().PollInterval-elapsed))
		a.Become(TPIdleState{
			actor: a,
		})
		a.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.actor.stop()
	case *actor.Restarting:
		state.actor.stop()
	default:
		state.actor.logger.Debug("telemetry@processing: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Command state: an operator command is in flight. Stacked on top of idle or
// retryWait.

type TPCommandState struct {
	ActorState
	actor   *TelemetryPollerActor
	replyTo *actor.PID
}

func (state TPCommandState) Name() string {
	return "command"
}

func (state TPCommandState) Receive(ctx actor.Context) {
	a := state.actor
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TELEMETRY,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.OpenPortResponse:
		if msg.HasResponseError() {
			a.logger.Warn("telemetry@command: connect failed", zap.String("port", msg.Port), zap.Error(msg.GetResponseError()))
		} else {
			// poll right away instead of waiting out a retry interval
			a.scheduleTick(ctx, 0)
		}
		state.finish(ctx, domain.ConnectResponse{
			ActorResponseMixIn: msg.ActorResponseMixIn,
			State:              msg.State,
		})
	case domain.ClosePortResponse:
		state.finish(ctx, domain.DisconnectResponse{
			ActorResponseMixIn: msg.ActorResponseMixIn,
			State:              msg.State,
		})
	case domain.ExchangeResponse:
		state.finish(ctx, domain.RawCommandResponse{
			ActorResponseMixIn: msg.ActorResponseMixIn,
			Lines:              msg.Lines,
		})
	case manualRelayResult:
		if msg.log.Action != "" {
			a.pipeline.Board.LastAction.Set(msg.log)
		}
		a.publish(domain.ManualRelaySet{
			Log:   msg.log,
			Error: msg.err,
		})
		state.finish(ctx, domain.SetRelayResponse{
			ActorResponseMixIn: domain.Failed(msg.err),
			Log:                msg.log,
		})
	case *actor.Stopping:
		a.stop()
	case *actor.Restarting:
		a.stop()
	default:
		a.logger.Debug("telemetry@command: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		a.stash.Stash(ctx, msg)
	}
}

func (state TPCommandState) finish(ctx actor.Context, resp any) {
	if state.replyTo != nil {
		ctx.Send(state.replyTo, resp)
	}
	state.actor.UnbecomeStacked()
	state.actor.stash.UnstashAll(ctx)
}

// Other actor function helpers

func (state *TelemetryPollerActor) startCycle(ctx actor.Context) {
	state.ticks++
	cycle := pollCycle{
		id:         uuid.NewString(),
		start:      time.Now(),
		withStatus: state.statusEvery > 0 && (state.ticks-1)%state.statusEvery == 0,
	}
	state.logger.Sugar().Debugf("telemetry@idle: cycle %s start, status=%t", cycle.id, cycle.withStatus)
	state.Become(TPPollingState{
		actor: state,
		cycle: cycle,
		phase: vcmon.CmdVCMonData,
	}.OnEnterAction(ctx))
}

func (state *TelemetryPollerActor) failCycle(ctx actor.Context, cmd vcmon.Command, err error) {
	failure := classifyFailure(err)
	if failure == domain.NotConnected {
		state.logger.Debug("telemetry@polling: not connected", zap.String("command", cmd.Name))
	} else {
		state.logger.Warn("telemetry@polling: cycle failed", zap.String("command", cmd.Name),
			zap.Stringer("failure", failure), zap.Error(err))
	}
	state.publish(domain.PollFailed{
		Poller:  domain.ACTOR_ID_TELEMETRY,
		Command: cmd.Name,
		Failure: failure,
		Error:   err,
	})
	state.scheduleTick(ctx, state.pipeline.Configs.Get().PollInterval)
	state.Become(TPRetryWaitState{
		actor: state,
	})
	state.stash.UnstashAll(ctx)
}

func (state *TelemetryPollerActor) process(ctx actor.Context, cycle pollCycle) {
	cfg := state.pipeline.Configs.Get()
	m := BuildMeasurement(cycle.id, cycle.solar, cycle.cells, cfg)
	state.pipeline.Board.Telemetry.Push(m)

	pipeline := state.pipeline
	execute := pipeline.Board.AutoControl()
	NewBackgroundTaskNoError(ctx, func() *cycleResult {
		return runPipeline(pipeline, m, cfg, execute)
	}).Recover(func(err error) cycleResult {
		return cycleResult{measurement: m, taskErr: err}
	}).WithTimeout(processTimeout).PipeTo(ctx.Self())

	state.Become(TPProcessingState{
		actor: state,
		cycle: cycle,
	})
}

func (state *TelemetryPollerActor) scheduleTick(ctx actor.Context, after time.Duration) {
	if state.cancelTick != nil {
		state.cancelTick()
	}
	state.tickSeq++
	state.cancelTick = state.scheduler.RequestOnce(after, ctx.Self(), telemetryTick{seq: state.tickSeq})
}

func (state *TelemetryPollerActor) publish(event any) {
	if state.eventStream != nil {
		state.eventStream.Publish(event)
	}
}

func (state *TelemetryPollerActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
}

// runPipeline persists the measurement, then decides and, when execute is
// set, drives the relay. A persistence failure leaves the measurement ID at 0
// and does not stop the decision.
func runPipeline(p Pipeline, m domain.Measurement, cfg domain.SystemConfig, execute bool) *cycleResult {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	res := &cycleResult{measurement: m}
	if p.Gateway != nil {
		id, err := p.Gateway.AppendMeasurement(ctx, m)
		if err != nil {
			res.persistErr = err
		} else {
			res.measurement.ID = id
		}
	}
	res.decision = p.Logic.Decide(res.measurement, cfg)
	if execute && p.Executor != nil {
		res.log, res.execErr = p.Executor.Apply(ctx, res.decision)
		res.applied = true
	}
	return res
}

// BuildMeasurement assembles one cycle's readings into a Measurement.
func BuildMeasurement(cycleId string, solar *vcmon.SolarReading, cells *vcmon.CellVoltages, cfg domain.SystemConfig) domain.Measurement {
	return domain.Measurement{
		ConfigID:      cfg.ID,
		CycleID:       cycleId,
		Timestamp:     time.Now(),
		PVVoltage:     solar.Voltage,
		PVCurrent:     solar.Current,
		PVPower:       solar.Power,
		CellVoltage:   [3]float64{cells.Cell1S, cells.Cell2S, cells.Cell3S},
		TotalVoltage:  cells.Total,
		MaxCurrent:    solar.MaxCurrent,
		EnergyWh:      solar.EnergyWh,
		Temperature:   solar.Temperature,
		StateOfCharge: service.LinearSoC(cells.Total, cfg),
		ChargeStage:   service.ChargeStageOf(solar.Stage, solar.Current),
	}
}

func decodeReply[T any](resp domain.ExchangeResponse, decode func([]string) (*T, error)) (*T, error) {
	if resp.HasResponseError() {
		return nil, resp.GetResponseError()
	}
	if len(resp.Lines) == 0 {
		return nil, errNoResponse
	}
	return decode(resp.Lines)
}

func classifyFailure(err error) domain.PollFailure {
	var protocolErr *vcmon.ProtocolError
	switch {
	case vcmon.IsTransportError(err):
		return domain.NotConnected
	case errors.As(err, &protocolErr):
		return domain.MalformedResponse
	default:
		return domain.NoResponse
	}
}
