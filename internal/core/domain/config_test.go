package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSystemConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultSystemConfig().Validate())
}

func TestSystemConfigValidate(t *testing.T) {

	cases := []struct {
		name   string
		mutate func(*SystemConfig)
	}{
		{"charge limit above 100", func(c *SystemConfig) { c.ChargeLimitSoC = 101 }},
		{"charge limit negative", func(c *SystemConfig) { c.ChargeLimitSoC = -1 }},
		{"negative low voltage", func(c *SystemConfig) { c.LowVoltageThreshold = -0.1 }},
		{"negative pv threshold", func(c *SystemConfig) { c.PVOkThreshold = -2 }},
		{"zero poll interval", func(c *SystemConfig) { c.PollInterval = 0 }},
		{"zero voltage poll interval", func(c *SystemConfig) { c.VoltagePollInterval = 0 }},
		{"floor above ceiling", func(c *SystemConfig) { c.SoCFloorVoltage = 13 }},
		{"floor equals ceiling", func(c *SystemConfig) { c.SoCFloorVoltage = c.SoCCeilingVoltage }},
		{"unknown relay", func(c *SystemConfig) { c.ChargeRelayChannel = 9 }},
		{"charge limit NaN", func(c *SystemConfig) { c.ChargeLimitSoC = math.NaN() }},
		{"charge limit +Inf", func(c *SystemConfig) { c.ChargeLimitSoC = math.Inf(1) }},
		{"low voltage NaN", func(c *SystemConfig) { c.LowVoltageThreshold = math.NaN() }},
		{"pv threshold -Inf", func(c *SystemConfig) { c.PVOkThreshold = math.Inf(-1) }},
		{"floor NaN", func(c *SystemConfig) { c.SoCFloorVoltage = math.NaN() }},
		{"ceiling +Inf", func(c *SystemConfig) { c.SoCCeilingVoltage = math.Inf(1) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultSystemConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			var verr *ConfigValidationError
			assert.True(t, errors.As(err, &verr))
			assert.Len(t, verr.Problems, 1)
		})
	}
}

func TestSystemConfigValidateBounds(t *testing.T) {

	assert := assert.New(t)

	cfg := DefaultSystemConfig()
	cfg.ChargeLimitSoC = 0
	cfg.LowVoltageThreshold = 0
	cfg.PVOkThreshold = 0
	cfg.PollInterval = time.Millisecond
	assert.NoError(cfg.Validate())

	cfg.ChargeLimitSoC = 100
	assert.NoError(cfg.Validate())
}
