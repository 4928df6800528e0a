package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Serial:  SerialConfig{Port: "/dev/ttyUSB0", BaudRate: 115200, ReadDeadlineMillis: 1000, SettleMillis: 200},
		Poll:    PollConfig{TelemetryIntervalMillis: 2000, VoltageIntervalMillis: 10000, StatusEvery: 5},
		Control: ControlConfig{LowVoltageThreshold: 10, ChargeLimitSoC: 95, PVOkThreshold: 5, SoCFloorVoltage: 8, SoCCeilingVoltage: 12.6, ChargeRelayChannel: 2},
		Buffer:  BufferConfig{TelemetryCapacity: 300, VoltageCapacity: 30},
	}
}

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("VCMon_1")
	assert.NoError(err)
	assert.Equal("vcmon_1", topic)

	_, err = CheckMQTTTopic("vcmon/1")
	assert.Error(err)
}

func TestCheckBounds(t *testing.T) {

	assert := assert.New(t)

	assert.NoError(validConfig().CheckBounds())

	cfg := validConfig()
	cfg.Poll.TelemetryIntervalMillis = 100
	assert.Error(cfg.CheckBounds())

	cfg = validConfig()
	cfg.Control.ChargeRelayChannel = 7
	assert.Error(cfg.CheckBounds())

	cfg = validConfig()
	cfg.Kafka.Enable = true
	assert.Error(cfg.CheckBounds())

	cfg = validConfig()
	cfg.Storage.RetentionDays = 30
	assert.Error(cfg.CheckBounds())
	cfg.Storage.RetentionCron = "0 0 3 * * *"
	assert.NoError(cfg.CheckBounds())
}

func TestSeedSystemConfig(t *testing.T) {

	sc := validConfig().SystemConfig()
	assert.NoError(t, sc.Validate())
	assert.Equal(t, "/dev/ttyUSB0", sc.PortIdentifier)
	assert.EqualValues(t, 2000, sc.PollInterval.Milliseconds())
}
