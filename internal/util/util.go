package util

import (
	"github.com/berfenger/vcmon2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Port:               "sim0",
			BaudRate:           115200,
			Simulate:           true,
			AutoConnect:        true,
			ReadDeadlineMillis: 200,
		},
		Poll: config.PollConfig{
			TelemetryIntervalMillis: 500,
			VoltageIntervalMillis:   1000,
			StatusEvery:             2,
		},
		Control: config.ControlConfig{
			LowVoltageThreshold: 10.0,
			ChargeLimitSoC:      95.0,
			PVOkThreshold:       5.0,
			SoCFloorVoltage:     8.0,
			SoCCeilingVoltage:   12.6,
			ChargeRelayChannel:  2,
			AutoControl:         true,
		},
		Buffer: config.BufferConfig{
			TelemetryCapacity: 300,
			VoltageCapacity:   30,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "vcmon",
		},
		Port: 8080,
	}
}
