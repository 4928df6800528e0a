package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SystemConfig is the runtime configuration of the control loop. It is only
// replaced as a whole.
type SystemConfig struct {
	ID                  int64         `json:"id"`
	PollInterval        time.Duration `json:"poll_interval"`
	VoltagePollInterval time.Duration `json:"voltage_poll_interval"`
	LowVoltageThreshold float64       `json:"low_voltage_threshold"`
	ChargeLimitSoC      float64       `json:"charge_limit_soc"`
	PVOkThreshold       float64       `json:"pv_ok_threshold"`
	PortIdentifier      string        `json:"port_identifier"`
	SoCFloorVoltage     float64       `json:"soc_floor_voltage"`
	SoCCeilingVoltage   float64       `json:"soc_ceiling_voltage"`
	ChargeRelayChannel  RelayChannel  `json:"charge_relay_channel"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		PollInterval:        2000 * time.Millisecond,
		VoltagePollInterval: 10 * time.Second,
		LowVoltageThreshold: 10.0,
		ChargeLimitSoC:      95.0,
		PVOkThreshold:       5.0,
		SoCFloorVoltage:     8.0,
		SoCCeilingVoltage:   12.6,
		ChargeRelayChannel:  RelayBatteryPower,
	}
}

func (c SystemConfig) Validate() error {
	var problems []string
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"charge_limit_soc", c.ChargeLimitSoC},
		{"low_voltage_threshold", c.LowVoltageThreshold},
		{"pv_ok_threshold", c.PVOkThreshold},
		{"soc_floor_voltage", c.SoCFloorVoltage},
		{"soc_ceiling_voltage", c.SoCCeilingVoltage},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			problems = append(problems, f.name+" must be a finite number")
		}
	}
	if len(problems) > 0 {
		return &ConfigValidationError{Problems: problems}
	}
	if c.ChargeLimitSoC < 0 || c.ChargeLimitSoC > 100 {
		problems = append(problems, "charge_limit_soc must be within [0, 100]")
	}
	if c.LowVoltageThreshold < 0 {
		problems = append(problems, "low_voltage_threshold must be >= 0")
	}
	if c.PVOkThreshold < 0 {
		problems = append(problems, "pv_ok_threshold must be >= 0")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll_interval must be > 0")
	}
	if c.VoltagePollInterval <= 0 {
		problems = append(problems, "voltage_poll_interval must be > 0")
	}
	if c.SoCFloorVoltage >= c.SoCCeilingVoltage {
		problems = append(problems, "soc_floor_voltage must be < soc_ceiling_voltage")
	}
	if !c.ChargeRelayChannel.Known() {
		problems = append(problems, fmt.Sprintf("charge_relay_channel %d is not a known relay", int(c.ChargeRelayChannel)))
	}
	if len(problems) > 0 {
		return &ConfigValidationError{Problems: problems}
	}
	return nil
}

type ConfigValidationError struct {
	Problems []string
}

func (e *ConfigValidationError) Error() string {
	return "invalid system config: " + strings.Join(e.Problems, "; ")
}
