package domain

import (
	"fmt"

	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"
)

// EngineCommand is an operator command consumed by the telemetry poller
// between cycles.
type EngineCommand interface {
	ActorRequest
	EngineCommand() string
}

type EngineCommandMixIn struct {
	ActorRequestMixIn
}

func (r EngineCommandMixIn) EngineCommand() string {
	return fmt.Sprintf("%T", r)
}

// Engine commands

type ConnectRequest struct {
	EngineCommandMixIn
	Port string
}

type ConnectResponse struct {
	ActorResponseMixIn
	State vcmon.ConnectionState
}

type DisconnectRequest struct {
	EngineCommandMixIn
}

type DisconnectResponse struct {
	ActorResponseMixIn
	State vcmon.ConnectionState
}

type SetRelayRequest struct {
	EngineCommandMixIn
	Channel RelayChannel
	State   RelayState
}

type SetRelayResponse struct {
	ActorResponseMixIn
	Log ActionLog
}

type RawCommandRequest struct {
	EngineCommandMixIn
	Command vcmon.Command
}

type RawCommandResponse struct {
	ActorResponseMixIn
	Lines []string
}

type SetAutoControlRequest struct {
	EngineCommandMixIn
	Enabled bool
}

type SetAutoControlResponse struct {
	ActorResponseMixIn
	Enabled bool
}

// ensure interface compliance
var _ EngineCommand = (*SetRelayRequest)(nil)
