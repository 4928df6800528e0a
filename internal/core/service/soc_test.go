package service

import (
	"math"
	"testing"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestLinearSoCBoundsAndMonotonic(t *testing.T) {

	assert := assert.New(t)
	cfg := domain.DefaultSystemConfig()

	prev := -1.0
	for v := 10.0; v <= 14.0; v += 0.01 {
		soc := LinearSoC(v, cfg)
		assert.GreaterOrEqual(soc, 0.0)
		assert.LessOrEqual(soc, 100.0)
		assert.GreaterOrEqual(soc, prev, "soc must not decrease at %.2fV", v)
		prev = soc
	}

	assert.Equal(0.0, LinearSoC(5, cfg))
	assert.Equal(100.0, LinearSoC(20, cfg))
	assert.Equal(50.0, LinearSoC(10.3, cfg))
	assert.Equal(0.0, LinearSoC(math.NaN(), cfg))
}

func TestLinearSoCConfigurableConstants(t *testing.T) {

	cfg := domain.DefaultSystemConfig()
	cfg.SoCFloorVoltage = 9.0
	cfg.SoCCeilingVoltage = 12.6

	assert.Equal(t, 50.0, LinearSoC(10.8, cfg))

	cfg.SoCCeilingVoltage = cfg.SoCFloorVoltage
	assert.Equal(t, 0.0, LinearSoC(10.8, cfg))
}

func TestChargeStageOf(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(domain.ChargeStageFault, ChargeStageOf("Fault", 1))
	assert.Equal(domain.ChargeStageCharging, ChargeStageOf("", 0.5))
	assert.Equal(domain.ChargeStageDischarging, ChargeStageOf("Bulk", -0.3))
	assert.Equal(domain.ChargeStageIdle, ChargeStageOf("", 0.01))
}
