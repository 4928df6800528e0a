package service

import (
	"math"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
)

// LinearSoC maps the pack voltage linearly between the configured floor and
// ceiling voltages, clamped to [0, 100] and rounded to two decimals.
func LinearSoC(totalVoltage float64, cfg domain.SystemConfig) float64 {
	span := cfg.SoCCeilingVoltage - cfg.SoCFloorVoltage
	if span <= 0 || math.IsNaN(totalVoltage) {
		return 0
	}
	soc := (totalVoltage - cfg.SoCFloorVoltage) / span * 100
	soc = math.Max(0, math.Min(100, soc))
	return math.Round(soc*100) / 100
}

const stageCurrentDeadband = 0.05

// ChargeStageOf prefers the stage reported by the device and falls back to
// the sign of the PV current.
func ChargeStageOf(reported string, current float64) domain.ChargeStage {
	switch domain.ChargeStage(reported) {
	case domain.ChargeStageIdle, domain.ChargeStageCharging, domain.ChargeStageDischarging, domain.ChargeStageFault:
		return domain.ChargeStage(reported)
	}
	switch {
	case current > stageCurrentDeadband:
		return domain.ChargeStageCharging
	case current < -stageCurrentDeadband:
		return domain.ChargeStageDischarging
	default:
		return domain.ChargeStageIdle
	}
}
