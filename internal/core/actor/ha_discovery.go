package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/battexec/internal/config"
	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// DiscoveryTarget is an installation announced to Home Assistant.
type DiscoveryTarget struct {
	InstallationId string
	Dialect        domain.Dialect
}

// HADiscoveryActor announces the status entities once the MQTT actor is up,
// then seeds their state with the current status of every installation.
type HADiscoveryActor struct {
	config      *config.Config
	behavior    actor.Behavior
	stash       *actorutil.Stash
	targets     []DiscoveryTarget
	mqttActor   *actor.PID
	eventStream *eventstream.EventStream

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, targets []DiscoveryTarget, mqttActor *actor.PID, es *eventstream.EventStream, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		targets:     targets,
		mqttActor:   mqttActor,
		eventStream: es,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// MQTT Actor Request, answered once connected
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 15*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}

		ctx.Send(state.mqttActor, state.discoveryRequest())

		// seed entity state
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(ctx.Parent(), domain.GetStatusRequest{}, 5*time.Second), func(err error) any {
			return domain.GetStatusResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.Become(state.WaitingStatusReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingStatusReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetStatusResponse:
		if msg.HasResponseError() {
			state.logger.Warn("hadiscovery@status cannot seed entity state", zap.Error(msg.GetResponseError()))
		} else if state.eventStream != nil {
			for _, status := range msg.Installations {
				state.eventStream.Publish(domain.InstallationStatusEvent{Status: status})
			}
		}
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@status: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) discoveryRequest() domain.PublishDiscoveryRequest {
	var sensors []domain.GenericSensor
	var switches []domain.GenericSwitch
	var buttons []domain.GenericButton

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	for _, target := range state.targets {
		device := domain.InstallationDevice(target.InstallationId, target.Dialect, bridgeDevice)
		sensors = append(sensors, domain.InstallationSensors(target.InstallationId, device)...)
		switches = append(switches, domain.InstallationSwitches(target.InstallationId, device)...)
		buttons = append(buttons, domain.InstallationButtons(target.InstallationId, device)...)
	}

	return domain.PublishDiscoveryRequest{
		Sensors:  sensors,
		Switches: switches,
		Buttons:  buttons,
	}
}
