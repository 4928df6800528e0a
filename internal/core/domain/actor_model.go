package domain

import (
	"time"

	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_SERIAL       = "serial"
	ACTOR_ID_TELEMETRY    = "telemetry"
	ACTOR_ID_VOLTAGE      = "voltage"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// ExchangeRequest runs one request/response round trip on the serial link.
type ExchangeRequest struct {
	ActorRequestMixIn
	Command  vcmon.Command
	Deadline time.Duration
}

type ExchangeResponse struct {
	ActorResponseMixIn
	Command vcmon.Command
	Lines   []string
	State   vcmon.ConnectionState
}

type OpenPortRequest struct {
	ActorRequestMixIn
	Port string
}

type OpenPortResponse struct {
	ActorResponseMixIn
	Port  string
	State vcmon.ConnectionState
}

type ClosePortRequest struct {
	ActorRequestMixIn
}

type ClosePortResponse struct {
	ActorResponseMixIn
	State vcmon.ConnectionState
}

type ApplyConfigRequest struct {
	ActorRequestMixIn
	Config SystemConfig
}

type ApplyConfigResponse struct {
	ActorResponseMixIn
	Config SystemConfig
}

// PatchConfigRequest changes a single numeric field of the active config.
type PatchConfigRequest struct {
	ActorRequestMixIn
	Field string
	Value float64
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
