package port

import (
	"context"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"
)

type ControlLogic interface {
	Decide(m domain.Measurement, cfg domain.SystemConfig) domain.ControlDecision
}

// RelayCommandSender delivers a fire-and-forget relay command to the device.
type RelayCommandSender interface {
	SendRelayCommand(ctx context.Context, cmd vcmon.Command) error
}

type ActionExecutor interface {
	Apply(ctx context.Context, decision domain.ControlDecision) (domain.ActionLog, error)
	SetRelay(ctx context.Context, channel domain.RelayChannel, state domain.RelayState, causedBy domain.MeasurementRef) (domain.ActionLog, error)
}
