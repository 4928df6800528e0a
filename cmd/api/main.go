package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/vcmon2mqtt/internal/adapter/actor"
	"github.com/berfenger/vcmon2mqtt/internal/adapter/kafka"
	"github.com/berfenger/vcmon2mqtt/internal/adapter/modbusslave"
	"github.com/berfenger/vcmon2mqtt/internal/adapter/storage"
	"github.com/berfenger/vcmon2mqtt/internal/config"
	"github.com/berfenger/vcmon2mqtt/internal/core/actor"
	"github.com/berfenger/vcmon2mqtt/internal/core/buffer"
	"github.com/berfenger/vcmon2mqtt/internal/core/port"
	"github.com/berfenger/vcmon2mqtt/internal/core/service"
	"github.com/berfenger/vcmon2mqtt/internal/jobs"
	"github.com/berfenger/vcmon2mqtt/internal/metrics"
	"github.com/berfenger/vcmon2mqtt/internal/server"
	"github.com/berfenger/vcmon2mqtt/internal/util/actorutil"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// storage
	gateway, err := openGateway(cfg)
	if err != nil {
		logger.Error("could not open storage", zap.String("path", cfg.Storage.Path), zap.Error(err))
		return
	}
	defer gateway.Close()

	// shared state
	board := buffer.NewBoard(cfg.Buffer.TelemetryCapacity, cfg.Buffer.VoltageCapacity)
	board.SetAutoControl(cfg.Control.AutoControl)
	configs := service.NewConfigHolder(cfg.SystemConfig())
	eventStream := &eventstream.EventStream{}

	// metrics
	promMetrics := metrics.NewMetrics()
	metricsSub := promMetrics.Subscribe(eventStream)
	defer eventStream.Unsubscribe(metricsSub)

	// transport
	transport := newTransport(cfg, logger)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	deps := actor.MasterDeps{
		Gateway:             gateway,
		Board:               board,
		Configs:             configs,
		EventStream:         eventStream,
		Logic:               service.DefaultControlLogic{},
		SerialActorProvider: serialActorProvider(cfg, transport, promMetrics, logger),
		MQTTActorProvider:   mqttActorProvider(cfg, logger),
	}
	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, deps, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	engine := actor.NewEngine(ctx, pid, board, configs, gateway, transport)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// kafka sink
	if cfg.Kafka.Enable {
		sink, err := kafka.NewSink(cfg.Kafka, logger)
		if err != nil {
			logger.Error("could not create kafka sink", zap.Error(err))
		} else {
			sink.Start(bgCtx)
			sub := sink.Subscribe(eventStream)
			defer func() {
				eventStream.Unsubscribe(sub)
				if err := sink.Stop(); err != nil {
					logger.Warn("kafka sink stop", zap.Error(err))
				}
			}()
		}
	}

	// retention
	if cfg.Storage.RetentionDays > 0 {
		retention, err := jobs.NewRetentionScheduler(gateway, cfg.Storage.RetentionDays, cfg.Storage.RetentionCron, logger)
		if err == nil {
			err = retention.Start(bgCtx)
		}
		if err != nil {
			logger.Error("could not start retention job", zap.Error(err))
		} else {
			defer retention.Stop()
		}
	}

	// modbus mirror
	if cfg.ModbusServer.Enable {
		modbusServer, err := modbusslave.NewServer(cfg.ModbusServer.Url, engine, logger)
		if err == nil {
			err = modbusServer.Start()
		}
		if err != nil {
			logger.Error("could not start modbus server", zap.String("url", cfg.ModbusServer.Url), zap.Error(err))
		} else {
			defer modbusServer.Stop()
		}
	}

	server := server.NewServer(*cfg, engine, promMetrics.Handler(), logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
	if err := transport.Close(); err != nil {
		logger.Warn("closing transport", zap.Error(err))
	}
}

func initConfig() (*config.Config, error) {

	// alias PORT => VCMON_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("VCMON_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("vcmon")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// brokers may come from the environment as a comma separated list
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if err := cfg.CheckBounds(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func newTransport(cfg *config.Config, logger *zap.Logger) vcmon.Transport {
	if cfg.Serial.Simulate {
		logger.Warn("serial: using simulated device", zap.String("port", cfg.Serial.Port))
		sim := vcmon.NewSimulatedTransport(vcmon.DefaultSimulatedDevice(), cfg.Serial.Port)
		sim.SetDrift(true)
		return sim
	}
	return vcmon.NewSerialTransport(cfg.Serial.BaudRate, cfg.Serial.Settle(), logger)
}

func openGateway(cfg *config.Config) (port.PersistenceGateway, error) {
	if cfg.Storage.Path == "" {
		slog.Warn("storage.path not set, measurements are kept in memory")
		return storage.NewMemoryGateway(), nil
	}
	return storage.OpenSQLiteGateway(cfg.Storage.Path)
}

func serialActorProvider(cfg *config.Config, transport vcmon.Transport, m *metrics.Metrics, logger *zap.Logger) actor.SerialActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.SerialActor {
		return adactor.NewSerialActor(transport, cfg.Serial.ReadDeadline(), eventStream, logger, m.Instrument())
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enable {
		return nil
	}
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
	viper.SetDefault("serial.port", "/dev/ttyUSB0")
	viper.SetDefault("serial.baud_rate", 115200)
	viper.SetDefault("serial.simulate", false)
	viper.SetDefault("serial.auto_connect", true)
	viper.SetDefault("serial.read_deadline_millis", 1000)
	viper.SetDefault("serial.settle_millis", 2000)
	viper.SetDefault("poll.telemetry_interval_millis", 2000)
	viper.SetDefault("poll.voltage_interval_millis", 10000)
	viper.SetDefault("poll.status_every", 5)
	viper.SetDefault("control.low_voltage_threshold", 10.0)
	viper.SetDefault("control.charge_limit_soc", 95.0)
	viper.SetDefault("control.pv_ok_threshold", 5.0)
	viper.SetDefault("control.soc_floor_voltage", 8.0)
	viper.SetDefault("control.soc_ceiling_voltage", 12.6)
	viper.SetDefault("control.charge_relay_channel", 2)
	viper.SetDefault("control.auto_control", true)
	viper.SetDefault("buffer.telemetry_capacity", 300)
	viper.SetDefault("buffer.voltage_capacity", 30)
	viper.SetDefault("storage.path", "")
	viper.SetDefault("storage.retention_days", 0)
	viper.SetDefault("storage.retention_cron", "0 0 3 * * *")
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "vcmon")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("modbus_server.enable", false)
	viper.SetDefault("modbus_server.url", "tcp://0.0.0.0:5502")
	viper.SetDefault("kafka.enable", false)
	viper.SetDefault("kafka.brokers", []string{})
	viper.SetDefault("kafka.topic", "vcmon.telemetry")
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
