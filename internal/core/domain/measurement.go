package domain

import "time"

type ChargeStage string

const (
	ChargeStageIdle        ChargeStage = "Idle"
	ChargeStageCharging    ChargeStage = "Charging"
	ChargeStageDischarging ChargeStage = "Discharging"
	ChargeStageFault       ChargeStage = "Fault"
)

// Measurement is one telemetry cycle. ID stays 0 until the gateway stored it.
type Measurement struct {
	ID            int64       `json:"id"`
	ConfigID      int64       `json:"config_id"`
	CycleID       string      `json:"cycle_id"`
	Timestamp     time.Time   `json:"timestamp"`
	PVVoltage     float64     `json:"pv_voltage"`
	PVCurrent     float64     `json:"pv_current"`
	PVPower       float64     `json:"pv_power"`
	CellVoltage   [3]float64  `json:"cell_voltage"`
	TotalVoltage  float64     `json:"total_voltage"`
	MaxCurrent    float64     `json:"max_current"`
	EnergyWh      float64     `json:"energy_wh"`
	Temperature   float64     `json:"temperature"`
	StateOfCharge float64     `json:"state_of_charge"`
	ChargeStage   ChargeStage `json:"charge_stage"`
}

func (m Measurement) Persisted() bool {
	return m.ID != 0
}

func (m Measurement) Ref() MeasurementRef {
	return MeasurementRef{ID: m.ID, Timestamp: m.Timestamp}
}

// VoltageSample is a reading of the slow total-voltage poller.
type VoltageSample struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalVoltage  float64   `json:"total_voltage"`
	StateOfCharge float64   `json:"state_of_charge"`
}
