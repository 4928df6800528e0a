package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/buffer"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/port"
	"github.com/berfenger/vcmon2mqtt/internal/core/service"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/asynkron/protoactor-go/actor"
)

const defaultRequestTimeout = 5 * time.Second

// LinkState reads the transport connection state.
type LinkState interface {
	State() vcmon.ConnectionState
}

// Engine is the command and read surface for presentation adapters. Commands
// are messages to the master actor; reads come from the board, the config
// holder and the link state and never wait on a poll cycle.
type Engine struct {
	root    *actor.RootContext
	master  *actor.PID
	board   *buffer.Board
	configs *service.ConfigHolder
	gateway port.PersistenceGateway
	link    LinkState
}

// StateSnapshot is the latest known state of the engine.
type StateSnapshot struct {
	Connection  string                  `json:"connection"`
	AutoControl bool                    `json:"auto_control"`
	Measurement *domain.Measurement     `json:"measurement,omitempty"`
	Voltage     *domain.VoltageSample   `json:"voltage,omitempty"`
	Status      *vcmon.StatusFields     `json:"status,omitempty"`
	Decision    *domain.ControlDecision `json:"decision,omitempty"`
	LastAction  *domain.ActionLog       `json:"last_action,omitempty"`
	Config      domain.SystemConfig     `json:"config"`
}

func NewEngine(root *actor.RootContext, master *actor.PID, board *buffer.Board, configs *service.ConfigHolder,
	gateway port.PersistenceGateway, link LinkState) *Engine {
	return &Engine{
		root:    root,
		master:  master,
		board:   board,
		configs: configs,
		gateway: gateway,
		link:    link,
	}
}

// Commands

// Connect opens port, or the configured port when empty.
func (e *Engine) Connect(port string) {
	e.root.Send(e.master, domain.ConnectRequest{Port: port})
}

func (e *Engine) Disconnect() {
	e.root.Send(e.master, domain.DisconnectRequest{})
}

func (e *Engine) SetRelay(channel domain.RelayChannel, state domain.RelayState) error {
	if _, err := channel.Command(state); err != nil {
		return err
	}
	e.root.Send(e.master, domain.SetRelayRequest{Channel: channel, State: state})
	return nil
}

// ApplyConfig only reports validation errors. The config becomes active once
// the master has stored it.
func (e *Engine) ApplyConfig(cfg domain.SystemConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.root.Send(e.master, domain.ApplyConfigRequest{Config: cfg})
	return nil
}

func (e *Engine) SetAutoControl(enabled bool) {
	e.root.Send(e.master, domain.SetAutoControlRequest{Enabled: enabled})
}

// Raw sends a maintenance command by name and returns the reply lines.
// Relay commands are refused.
func (e *Engine) Raw(ctx context.Context, name string) ([]string, error) {
	cmd, ok := vcmon.LookupName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownCommand, name)
	}
	if domain.IsRelayCommand(cmd) {
		return nil, domain.ErrRelayCommand
	}
	result, err := e.root.RequestFuture(e.master, domain.RawCommandRequest{Command: cmd}, timeoutOf(ctx)).Result()
	if err != nil {
		return nil, err
	}
	resp, ok := result.(domain.RawCommandResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", result)
	}
	return resp.Lines, resp.GetResponseError()
}

func (e *Engine) Health(ctx context.Context) (domain.ActorHealthResponse, error) {
	result, err := e.root.RequestFuture(e.master, domain.ActorHealthRequest{}, timeoutOf(ctx)).Result()
	if err != nil {
		return domain.ActorHealthResponse{}, err
	}
	resp, ok := result.(domain.ActorHealthResponse)
	if !ok {
		return domain.ActorHealthResponse{}, fmt.Errorf("unexpected response %T", result)
	}
	return resp, nil
}

// Reads

func (e *Engine) State() vcmon.ConnectionState {
	return e.link.State()
}

// Ports lists the ports Connect can open. Transports that cannot enumerate
// their ports yield an empty list.
func (e *Engine) Ports() ([]string, error) {
	lister, ok := e.link.(vcmon.PortLister)
	if !ok {
		return []string{}, nil
	}
	ports, err := lister.Ports()
	if ports == nil {
		ports = []string{}
	}
	return ports, err
}

func (e *Engine) Config() domain.SystemConfig {
	return e.configs.Get()
}

func (e *Engine) AutoControl() bool {
	return e.board.AutoControl()
}

func (e *Engine) LatestMeasurement() (domain.Measurement, bool) {
	return e.board.Telemetry.Latest()
}

func (e *Engine) Measurements(n int) []domain.Measurement {
	return e.board.Telemetry.Snapshot(n)
}

func (e *Engine) VoltageSamples(n int) []domain.VoltageSample {
	return e.board.Voltage.Snapshot(n)
}

func (e *Engine) Status() (vcmon.StatusFields, bool) {
	return e.board.Status.Get()
}

func (e *Engine) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Connection:  e.State().String(),
		AutoControl: e.board.AutoControl(),
		Config:      e.configs.Get(),
	}
	if m, ok := e.board.Telemetry.Latest(); ok {
		snap.Measurement = &m
	}
	if v, ok := e.board.Voltage.Latest(); ok {
		snap.Voltage = &v
	}
	if st, ok := e.board.Status.Get(); ok {
		snap.Status = &st
	}
	if d, ok := e.board.Decision.Get(); ok {
		snap.Decision = &d
	}
	if a, ok := e.board.LastAction.Get(); ok {
		snap.LastAction = &a
	}
	return snap
}

func (e *Engine) History(ctx context.Context, from, to time.Time, limit int) ([]domain.Measurement, error) {
	return e.gateway.MeasurementsBetween(ctx, from, to, limit)
}

func (e *Engine) Actions(ctx context.Context, n int) ([]domain.ActionLog, error) {
	return e.gateway.LatestActionLogs(ctx, n)
}

func timeoutOf(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return defaultRequestTimeout
}
