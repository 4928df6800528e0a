package service

import (
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/port"
)

const (
	REASON_CHARGE_AND_USE_MAINS = "PV ON, Battery LOW. Charge Battery, Use Commercial Power."
	REASON_USE_PV_FOR_LOAD      = "PV ON, Battery OK. Use PV Power for Load."
	REASON_USE_MAINS_FOR_LOAD   = "PV OFF, Battery LOW. Use Commercial Power for Load."
	REASON_USE_BATTERY_FOR_LOAD = "PV OFF, Battery OK. Use Battery Power for Load."
	REASON_CHARGE_LIMIT_SUFFIX  = " Charge limit reached."
)

// DefaultControlLogic is the four-branch PV/battery rule table. Every call
// derives a fresh decision from the measurement alone.
type DefaultControlLogic struct{}

func (DefaultControlLogic) Decide(m domain.Measurement, cfg domain.SystemConfig) domain.ControlDecision {
	pvOk := m.PVVoltage >= cfg.PVOkThreshold
	batteryOk := m.TotalVoltage >= cfg.LowVoltageThreshold

	decision := domain.ControlDecision{
		Channel:  cfg.ChargeRelayChannel,
		State:    domain.RelayOff,
		CausedBy: m.Ref(),
	}

	switch {
	case pvOk && !batteryOk:
		decision.Action = domain.ActionChargeAndUseMains
		decision.State = domain.RelayOn
		decision.Reason = REASON_CHARGE_AND_USE_MAINS
	case pvOk && batteryOk:
		decision.Action = domain.ActionUsePvForLoad
		decision.Reason = REASON_USE_PV_FOR_LOAD
	case !pvOk && !batteryOk:
		decision.Action = domain.ActionUseMainsForLoad
		decision.Reason = REASON_USE_MAINS_FOR_LOAD
	default:
		decision.Action = domain.ActionUseBatteryForLoad
		decision.Reason = REASON_USE_BATTERY_FOR_LOAD
	}

	// charge limit wins over every branch
	if m.StateOfCharge >= cfg.ChargeLimitSoC {
		decision.State = domain.RelayOff
		decision.Overridden = true
		decision.Reason += REASON_CHARGE_LIMIT_SUFFIX
	}

	return decision
}

// ensure interface compliance
var _ port.ControlLogic = DefaultControlLogic{}
