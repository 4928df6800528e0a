package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel     zapcore.Level
	Serial       SerialConfig       `mapstructure:"serial"`
	Poll         PollConfig         `mapstructure:"poll"`
	Control      ControlConfig      `mapstructure:"control"`
	Buffer       BufferConfig       `mapstructure:"buffer"`
	Storage      StorageConfig      `mapstructure:"storage"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	ModbusServer ModbusServerConfig `mapstructure:"modbus_server"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Port         uint               `mapstructure:"port"`
	HttpLog      bool               `mapstructure:"http_log"`
}

type SerialConfig struct {
	Port               string
	BaudRate           int    `mapstructure:"baud_rate"`
	Simulate           bool   `mapstructure:"simulate"`
	AutoConnect        bool   `mapstructure:"auto_connect"`
	ReadDeadlineMillis uint32 `mapstructure:"read_deadline_millis"`
	SettleMillis       uint32 `mapstructure:"settle_millis"`
}

type PollConfig struct {
	TelemetryIntervalMillis uint32 `mapstructure:"telemetry_interval_millis"`
	VoltageIntervalMillis   uint32 `mapstructure:"voltage_interval_millis"`
	// StatusEvery polls the status dump every N telemetry ticks; 0 disables it
	StatusEvery uint `mapstructure:"status_every"`
}

type ControlConfig struct {
	LowVoltageThreshold float64 `mapstructure:"low_voltage_threshold"`
	ChargeLimitSoC      float64 `mapstructure:"charge_limit_soc"`
	PVOkThreshold       float64 `mapstructure:"pv_ok_threshold"`
	SoCFloorVoltage     float64 `mapstructure:"soc_floor_voltage"`
	SoCCeilingVoltage   float64 `mapstructure:"soc_ceiling_voltage"`
	ChargeRelayChannel  int     `mapstructure:"charge_relay_channel"`
	AutoControl         bool    `mapstructure:"auto_control"`
}

type BufferConfig struct {
	TelemetryCapacity int `mapstructure:"telemetry_capacity"`
	VoltageCapacity   int `mapstructure:"voltage_capacity"`
}

type StorageConfig struct {
	Path          string
	RetentionDays uint   `mapstructure:"retention_days"`
	RetentionCron string `mapstructure:"retention_cron"`
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type ModbusServerConfig struct {
	Enable bool
	Url    string
}

type KafkaConfig struct {
	Enable  bool
	Brokers []string
	Topic   string
}

func (c SerialConfig) ReadDeadline() time.Duration {
	return time.Duration(c.ReadDeadlineMillis) * time.Millisecond
}

func (c SerialConfig) Settle() time.Duration {
	return time.Duration(c.SettleMillis) * time.Millisecond
}

// SystemConfig builds the seed runtime config used when storage holds none.
func (c Config) SystemConfig() domain.SystemConfig {
	return domain.SystemConfig{
		PollInterval:        time.Duration(c.Poll.TelemetryIntervalMillis) * time.Millisecond,
		VoltagePollInterval: time.Duration(c.Poll.VoltageIntervalMillis) * time.Millisecond,
		LowVoltageThreshold: c.Control.LowVoltageThreshold,
		ChargeLimitSoC:      c.Control.ChargeLimitSoC,
		PVOkThreshold:       c.Control.PVOkThreshold,
		PortIdentifier:      c.Serial.Port,
		SoCFloorVoltage:     c.Control.SoCFloorVoltage,
		SoCCeilingVoltage:   c.Control.SoCCeilingVoltage,
		ChargeRelayChannel:  domain.RelayChannel(c.Control.ChargeRelayChannel),
	}
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// CheckBounds reports the first out of range parameter.
func (c Config) CheckBounds() error {
	if c.Poll.TelemetryIntervalMillis < 500 {
		return errors.New("config param poll.telemetry_interval_millis should be >= 500")
	}
	if c.Poll.VoltageIntervalMillis < 1000 {
		return errors.New("config param poll.voltage_interval_millis should be >= 1000")
	}
	if c.Serial.ReadDeadlineMillis == 0 {
		return errors.New("config param serial.read_deadline_millis should be > 0")
	}
	if c.Serial.BaudRate <= 0 {
		return errors.New("config param serial.baud_rate should be > 0")
	}
	if c.Buffer.TelemetryCapacity <= 0 || c.Buffer.VoltageCapacity <= 0 {
		return errors.New("config params buffer.telemetry_capacity and buffer.voltage_capacity should be > 0")
	}
	if c.Storage.RetentionDays > 0 && c.Storage.RetentionCron == "" {
		return errors.New("config param storage.retention_cron is required when storage.retention_days > 0")
	}
	if c.Kafka.Enable && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("config params kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if err := c.SystemConfig().Validate(); err != nil {
		return err
	}
	return nil
}
