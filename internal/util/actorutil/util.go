package actorutil

import (
	"log/slog"
	"strings"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/mqtt"

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

// ParsedMQTTCommandToRequest maps entity commands to installation requests.
// Unknown entities return nil.
func ParsedMQTTCommandToRequest(cmd mqtt.ParsedMQTTCommand) domain.ActorRequest {
	switch cmd.Command {
	case mqtt.COMMAND_SWITCH:
		if id, ok := domain.SplitEntityId(cmd.DeviceId, domain.SWITCH_SUFFIX_OPTIMIZATION); ok {
			return domain.SetOptimizationEnabledRequest{
				InstallationRequestMixIn: domain.InstallationRequestMixIn{InstallationId: id},
				Enabled:                  strings.EqualFold(cmd.Payload, mqtt.MQTT_PAYLOAD_ON),
			}
		}
	case mqtt.COMMAND_BUTTON:
		if id, ok := domain.SplitEntityId(cmd.DeviceId, domain.BUTTON_SUFFIX_TRIGGER); ok {
			return domain.TriggerTickRequest{
				InstallationRequestMixIn: domain.InstallationRequestMixIn{InstallationId: id},
			}
		}
	}
	return nil
}
