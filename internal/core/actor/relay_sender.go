package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/port"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/asynkron/protoactor-go/actor"
)

// SerialRelaySender hands relay commands to the serial actor, so they queue
// behind any exchange already on the wire.
type SerialRelaySender struct {
	root         *actor.RootContext
	serialActor  *actor.PID
	readDeadline time.Duration
}

func NewSerialRelaySender(root *actor.RootContext, serialActor *actor.PID, readDeadline time.Duration) *SerialRelaySender {
	if readDeadline <= 0 {
		readDeadline = vcmon.DefaultReadDeadline
	}
	return &SerialRelaySender{
		root:         root,
		serialActor:  serialActor,
		readDeadline: readDeadline,
	}
}

func (s *SerialRelaySender) SendRelayCommand(ctx context.Context, cmd vcmon.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := s.readDeadline + exchangeTimeoutMargin
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	result, err := s.root.RequestFuture(s.serialActor, domain.ExchangeRequest{Command: cmd}, timeout).Result()
	if err != nil {
		return err
	}
	resp, ok := result.(domain.ExchangeResponse)
	if !ok {
		return fmt.Errorf("unexpected serial response %T", result)
	}
	return resp.GetResponseError()
}

// ensure interface compliance
var _ port.RelayCommandSender = (*SerialRelaySender)(nil)
