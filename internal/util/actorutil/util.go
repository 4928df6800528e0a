package actorutil

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps an MQTT switch or number command to the
// actor request that carries it out. Unknown ids yield (nil, nil).
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ActorRequest, error) {
	switch cmd.Command {
	case "switch":
		var on bool
		switch cmd.Payload {
		case mqtt.MQTT_PAYLOAD_ON:
			on = true
		case mqtt.MQTT_PAYLOAD_OFF:
			on = false
		default:
			return nil, fmt.Errorf("invalid switch payload %q", cmd.Payload)
		}
		if cmd.DeviceId == domain.SWITCH_ID_AUTO_CONTROL {
			return domain.SetAutoControlRequest{Enabled: on}, nil
		}
		if channel, ok := domain.SwitchRelay(cmd.DeviceId); ok {
			return domain.SetRelayRequest{Channel: channel, State: domain.RelayStateOf(on)}, nil
		}
	case "number":
		switch cmd.DeviceId {
		case domain.INPUT_NUMBER_ID_CHARGE_LIMIT_SOC, domain.INPUT_NUMBER_ID_LOW_VOLTAGE, domain.INPUT_NUMBER_ID_PV_OK_THRESHOLD:
			value, err := strconv.ParseFloat(cmd.Payload, 64)
			if err != nil {
				return nil, err
			}
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return nil, fmt.Errorf("invalid number payload %q", cmd.Payload)
			}
			return domain.PatchConfigRequest{Field: cmd.DeviceId, Value: value}, nil
		}
	}
	return nil, nil
}
