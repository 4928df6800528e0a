package domain

import "time"

type Action string

const (
	ActionChargeAndUseMains Action = "ChargeAndUseMains"
	ActionUsePvForLoad      Action = "UsePvForLoad"
	ActionUseMainsForLoad   Action = "UseMainsForLoad"
	ActionUseBatteryForLoad Action = "UseBatteryForLoad"
	// ActionManual marks relay toggles requested by an operator.
	ActionManual Action = "Manual"
)

type RelayState string

const (
	RelayOn  RelayState = "on"
	RelayOff RelayState = "off"
)

func RelayStateOf(on bool) RelayState {
	if on {
		return RelayOn
	}
	return RelayOff
}

func (s RelayState) On() bool {
	return s == RelayOn
}

func (s RelayState) Valid() bool {
	return s == RelayOn || s == RelayOff
}

type MeasurementRef struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

type ControlDecision struct {
	Action     Action         `json:"action"`
	Channel    RelayChannel   `json:"channel"`
	State      RelayState     `json:"state"`
	Reason     string         `json:"reason"`
	CausedBy   MeasurementRef `json:"caused_by"`
	Overridden bool           `json:"overridden"`
}

type ActionLog struct {
	ID            int64        `json:"id"`
	MeasurementID int64        `json:"measurement_id"`
	Timestamp     time.Time    `json:"timestamp"`
	Channel       RelayChannel `json:"channel"`
	State         RelayState   `json:"state"`
	Action        Action       `json:"action"`
	Reason        string       `json:"reason"`
	SendFailed    bool         `json:"send_failed"`
	Manual        bool         `json:"manual"`
}
