package domain

import (
	"fmt"

	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"
)

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type InputNumberSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

// Engine events, published on the actor system event stream.

type MeasurementRecorded struct {
	Measurement Measurement
	// PersistError is set when the gateway rejected the measurement.
	PersistError error
}

type VoltageSampled struct {
	Sample VoltageSample
}

type StatusUpdated struct {
	Status vcmon.StatusFields
}

type DecisionApplied struct {
	Decision ControlDecision
	Log      ActionLog
	Error    error
}

type ManualRelaySet struct {
	Log   ActionLog
	Error error
}

type PollFailed struct {
	Poller  string
	Command string
	Failure PollFailure
	Error   error
}

type ConnectionStateChanged struct {
	State vcmon.ConnectionState
	Port  string
}

type ConfigApplied struct {
	Config SystemConfig
}

type AutoControlChanged struct {
	Enabled bool
}
