package service

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/port"
	"go.uber.org/zap"
)

const REASON_MANUAL = "Manual relay toggle."

// DefaultActionExecutor drives the relays and records what it did. A failed
// send is logged with SendFailed set and never retried here.
type DefaultActionExecutor struct {
	Sender  port.RelayCommandSender
	Gateway port.PersistenceGateway
	Logger  *zap.Logger
	Now     func() time.Time
}

func NewActionExecutor(sender port.RelayCommandSender, gateway port.PersistenceGateway, logger *zap.Logger) *DefaultActionExecutor {
	return &DefaultActionExecutor{
		Sender:  sender,
		Gateway: gateway,
		Logger:  logger.With(zap.String("component", "executor")),
		Now:     time.Now,
	}
}

func (e *DefaultActionExecutor) Apply(ctx context.Context, decision domain.ControlDecision) (domain.ActionLog, error) {
	entry := domain.ActionLog{
		MeasurementID: decision.CausedBy.ID,
		Channel:       decision.Channel,
		State:         decision.State,
		Action:        decision.Action,
		Reason:        decision.Reason,
	}
	return e.execute(ctx, entry)
}

func (e *DefaultActionExecutor) SetRelay(ctx context.Context, channel domain.RelayChannel, state domain.RelayState, causedBy domain.MeasurementRef) (domain.ActionLog, error) {
	entry := domain.ActionLog{
		MeasurementID: causedBy.ID,
		Channel:       channel,
		State:         state,
		Action:        domain.ActionManual,
		Reason:        REASON_MANUAL,
		Manual:        true,
	}
	return e.execute(ctx, entry)
}

func (e *DefaultActionExecutor) execute(ctx context.Context, entry domain.ActionLog) (domain.ActionLog, error) {
	entry.Timestamp = e.Now()

	var execErr error
	cmd, err := entry.Channel.Command(entry.State)
	if err == nil {
		err = e.Sender.SendRelayCommand(ctx, cmd)
	}
	if err != nil {
		entry.SendFailed = true
		execErr = &domain.ExecError{Kind: domain.SendFailed, Channel: entry.Channel, State: entry.State, Err: err}
		e.Logger.Warn("executor: relay command failed", zap.String("relay", entry.Channel.Name()),
			zap.String("state", string(entry.State)), zap.Error(err))
	}

	e.record(ctx, &entry)
	return entry, execErr
}

func (e *DefaultActionExecutor) record(ctx context.Context, entry *domain.ActionLog) {
	if e.Gateway == nil {
		return
	}
	if entry.MeasurementID == 0 {
		// action_log.measurement_id is a foreign key
		e.Logger.Warn("executor: no persisted measurement, action log skipped",
			zap.String("action", string(entry.Action)), zap.String("relay", entry.Channel.Name()))
		return
	}
	id, err := e.Gateway.AppendActionLog(ctx, *entry)
	if err != nil {
		e.Logger.Error("executor: could not store action log", zap.Error(err))
		return
	}
	entry.ID = id
	e.Logger.Sugar().Debugf("executor: %s", describe(*entry))
}

func describe(entry domain.ActionLog) string {
	return fmt.Sprintf("action_log #%d %s relay=%s state=%s failed=%t", entry.ID, entry.Action, entry.Channel.Name(), entry.State, entry.SendFailed)
}

// ensure interface compliance
var _ port.ActionExecutor = (*DefaultActionExecutor)(nil)
