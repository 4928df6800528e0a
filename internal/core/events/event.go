package events

import (
	. "github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"
)

func MeasurementToUpdateEvents(m Measurement) []any {
	var events []any

	floats := []struct {
		id       string
		value    float64
		decimals uint
	}{
		{SENSOR_ID_PV_VOLTAGE, m.PVVoltage, 2},
		{SENSOR_ID_PV_CURRENT, m.PVCurrent, 2},
		{SENSOR_ID_PV_POWER, m.PVPower, 2},
		{SENSOR_ID_PV_MAX_CURRENT, m.MaxCurrent, 2},
		{SENSOR_ID_PV_ENERGY, m.EnergyWh, 1},
		{SENSOR_ID_TEMPERATURE, m.Temperature, 1},
		{SENSOR_ID_CELL1_VOLTAGE, m.CellVoltage[0], 3},
		{SENSOR_ID_CELL2_VOLTAGE, m.CellVoltage[1], 3},
		{SENSOR_ID_CELL3_VOLTAGE, m.CellVoltage[2], 3},
		{SENSOR_ID_TOTAL_VOLTAGE, m.TotalVoltage, 3},
		{SENSOR_ID_BATTERY_SOC, m.StateOfCharge, 2},
	}
	for _, f := range floats {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: f.id,
			},
			Value:    f.value,
			Decimals: f.decimals,
		})
	}

	// Charge stage
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGE_STAGE,
		},
		Value: string(m.ChargeStage),
	})

	return events
}

// VoltageSampleToUpdateEvents refreshes the pack voltage between telemetry
// cycles.
func VoltageSampleToUpdateEvents(s VoltageSample) []any {
	return []any{
		FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_TOTAL_VOLTAGE,
			},
			Value:    s.TotalVoltage,
			Decimals: 3,
		},
		FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_BATTERY_SOC,
			},
			Value:    s.StateOfCharge,
			Decimals: 2,
		},
	}
}

func StatusToUpdateEvents(status vcmon.StatusFields) []any {
	var events []any
	for channel, state := range RelayStatesFromStatus(status) {
		events = append(events, RelaySwitchUpdateEvent(channel, state))
	}
	return events
}

func RelaySwitchUpdateEvent(channel RelayChannel, state RelayState) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: channel.Name(),
		},
		Value: state.On(),
	}
}

func DecisionToUpdateEvents(d ControlDecision) []any {
	var events []any

	// Control action
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CONTROL_ACTION,
		},
		Value: string(d.Action),
	})
	// Control reason
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CONTROL_REASON,
		},
		Value: d.Reason,
	})
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGE_LIMIT_REACHED,
		},
		Value: d.Overridden,
	})

	return events
}

func LinkStateUpdateEvent(state vcmon.ConnectionState) any {
	return TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LINK_STATE,
		},
		Value: state.String(),
	}
}

func AutoControlUpdateEvent(enabled bool) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_AUTO_CONTROL,
		},
		Value: enabled,
	}
}

func ConfigToUpdateEvents(cfg SystemConfig) []any {
	var events []any
	events = append(events, InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_CHARGE_LIMIT_SOC,
		},
		Value: cfg.ChargeLimitSoC,
	})
	events = append(events, InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_LOW_VOLTAGE,
		},
		Value:    cfg.LowVoltageThreshold,
		Decimals: 1,
	})
	events = append(events, InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_PV_OK_THRESHOLD,
		},
		Value:    cfg.PVOkThreshold,
		Decimals: 1,
	})
	return events
}

// EngineEventToUpdateEvents translates an event stream message into the
// sensor updates it implies. Unrelated messages yield nothing.
func EngineEventToUpdateEvents(msg any) []any {
	switch ev := msg.(type) {
	case MeasurementRecorded:
		return MeasurementToUpdateEvents(ev.Measurement)
	case VoltageSampled:
		return VoltageSampleToUpdateEvents(ev.Sample)
	case StatusUpdated:
		return StatusToUpdateEvents(ev.Status)
	case DecisionApplied:
		events := DecisionToUpdateEvents(ev.Decision)
		if ev.Error == nil {
			events = append(events, RelaySwitchUpdateEvent(ev.Decision.Channel, ev.Decision.State))
		}
		return events
	case ManualRelaySet:
		if ev.Error != nil {
			return nil
		}
		return []any{RelaySwitchUpdateEvent(ev.Log.Channel, ev.Log.State)}
	case ConnectionStateChanged:
		return []any{LinkStateUpdateEvent(ev.State)}
	case AutoControlChanged:
		return []any{AutoControlUpdateEvent(ev.Enabled)}
	case ConfigApplied:
		return ConfigToUpdateEvents(ev.Config)
	}
	return nil
}
