package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/battexec/internal/adapter/actor"
	"github.com/berfenger/battexec/internal/config"
	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/core/port"
	"github.com/berfenger/battexec/internal/core/service"
	. "github.com/berfenger/battexec/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
)

const (
	STATUS_COLLECT_TIMEOUT = 2 * time.Second
	STATE_UNREACHABLE      = "unreachable"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// InstallationBackends are the external collaborators of one installation.
type InstallationBackends struct {
	Feed      port.DecisionFeed
	Sink      port.FeedbackSink
	Commander port.DeviceCommander
	Switches  port.SwitchStore
}

type BackendsProvider func(config.InstallationConfig) (InstallationBackends, error)

type MasterOfPuppetsActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	currentStatus      statusCollection
	eventStream        *eventstream.EventStream
	aligner            *service.Aligner
	resolver           *service.ProfileResolver
	backends           BackendsProvider
	mqttActor          *actor.PID
	mqttActorProvider  MQTTActorProvider
	installations      map[string]*actor.PID
	targets            []DiscoveryTarget
	logger             *zap.Logger
}

type healthCheckResult struct {
	mqttActorHealthy bool
	expected         int
	checksReceived   int
	respondTo        *actor.PID
}

type statusCollection struct {
	pending   int
	statuses  map[string]domain.InstallationStatus
	respondTo *actor.PID
}

// collected installation status, or the failure to get it
type installationStatusResult struct {
	installationId string
	status         *domain.InstallationStatus
}

// NewMasterOfPuppetsActor builds the root actor. mqttActorProvider may be nil
// when no MQTT broker is configured.
func NewMasterOfPuppetsActor(config *config.Config, resolver *service.ProfileResolver, backends BackendsProvider,
	mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:       &eventstream.EventStream{},
		resolver:          resolver,
		backends:          backends,
		mqttActorProvider: mqttActorProvider,
		installations:     map[string]*actor.PID{},
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

// EventStream carries InstallationStatusEvents of every installation.
func (state *MasterOfPuppetsActor) EventStream() *eventstream.EventStream {
	return state.eventStream
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		location, err := time.LoadLocation(state.config.Timezone)
		if err != nil {
			panic(err)
		}
		aligner, err := service.NewAligner(state.config.Control.ScheduleCron, location, state.config.Control.Lookback())
		if err != nil {
			panic(err)
		}
		state.aligner = aligner

		// profiles are resolved before any installation can tick
		for _, inst := range state.config.Installations {
			if err := state.startInstallation(ctx, inst); err != nil {
				panic(err)
			}
		}

		// start MQTT child
		if state.mqttActorProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID

			// start HA Discovery
			if state.config.MQTT.HADiscoveryEnable {
				_, err := state.startHADiscoveryActor(ctx)
				if err != nil {
					panic(err)
				}
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ForRequest(msg).ReplyTo(ctx)
		if state.mqttActor == nil {
			state.currentHealthCheck.respond(ctx)
			return
		}
		state.currentHealthCheck.expected = 1
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.GetStatusRequest:
		state.logger.Debug("master@default GetStatusRequest")
		state.currentStatus = statusCollection{
			pending:   len(state.installations),
			statuses:  map[string]domain.InstallationStatus{},
			respondTo: ForRequest(msg).ReplyTo(ctx),
		}
		if state.currentStatus.pending == 0 {
			state.respondStatus(ctx)
			return
		}
		for id, pid := range state.installations {
			installationId := id
			future := ctx.RequestFuture(pid, domain.GetInstallationStatusRequest{}, STATUS_COLLECT_TIMEOUT)
			ctx.ReenterAfter(future, func(res any, err error) {
				result := installationStatusResult{installationId: installationId}
				if resp, ok := res.(domain.GetInstallationStatusResponse); ok && err == nil {
					result.status = &resp.Status
				}
				ctx.Send(ctx.Self(), result)
			})
		}
		ctx.SetReceiveTimeout(STATUS_COLLECT_TIMEOUT + time.Second)
		state.behavior.BecomeStacked(state.StatusCollectReceive)
	case domain.InstallationRequest:
		pid, ok := state.installations[msg.Installation()]
		if !ok {
			state.logger.Warn("master@default unknown installation", zap.String("installation", msg.Installation()))
			if resp := unknownInstallationResponse(msg); resp != nil {
				respond(ctx, ForRequest(msg).ReplyTo(ctx), resp)
			}
			return
		}
		ctx.Forward(pid)
	case adactor.ParsedCommand:
		// redirect parsedCommand to the installation
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			if req, ok := ParsedMQTTCommandToRequest(*msg.Command).(domain.InstallationRequest); ok {
				if pid, found := state.installations[req.Installation()]; found {
					ctx.Send(pid, req)
				} else {
					state.logger.Warn("master@default command for unknown installation", zap.String("installation", req.Installation()))
				}
			}
		}
	case *actor.Terminated:
		state.logger.Error("master@default child terminated", zap.String("child", msg.Who.Id))
	default:
		state.logger.Debug("master@default ignored", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy && msg.Id == domain.ACTOR_ID_MQTT {
			state.currentHealthCheck.mqttActorHealthy = true
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) StatusCollectReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		ctx.CancelReceiveTimeout()
		state.respondStatus(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case installationStatusResult:
		state.currentStatus.pending--
		if msg.status != nil {
			state.currentStatus.statuses[msg.installationId] = *msg.status
		}
		if state.currentStatus.pending <= 0 {
			ctx.CancelReceiveTimeout()
			state.respondStatus(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("master@status stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// respondStatus answers in configuration order. Installations that did not
// answer are reported as unreachable.
func (state *MasterOfPuppetsActor) respondStatus(ctx actor.Context) {
	resp := domain.GetStatusResponse{Version: versioninfo.Short()}
	for _, target := range state.targets {
		status, ok := state.currentStatus.statuses[target.InstallationId]
		if !ok {
			status = domain.InstallationStatus{
				InstallationID: target.InstallationId,
				Dialect:        target.Dialect,
				Health:         domain.HEALTH_DEGRADED,
				NeedsAttention: true,
				State:          STATE_UNREACHABLE,
			}
		}
		resp.Installations = append(resp.Installations, status)
	}
	respond(ctx, state.currentStatus.respondTo, resp)
	state.currentStatus = statusCollection{}
}

// startInstallation resolves the profile and spawns the installation actor.
// Installations that cannot be controlled get a misconfigured actor so they
// still report status.
func (state *MasterOfPuppetsActor) startInstallation(ctx actor.Context, inst config.InstallationConfig) error {
	logger := state.logger.With(zap.String("installation", inst.Id))
	control := state.config.Control

	var producer actor.Producer
	configured, err := inst.DeviceProfile()
	if err != nil {
		cause := &domain.ConfigurationError{InstallationID: inst.Id, Reason: err.Error()}
		producer = state.misconfigured(inst.Id, "", cause)
	} else if profile, err := state.resolver.Resolve(configured); err != nil {
		producer = state.misconfigured(inst.Id, profile.Dialect, err)
	} else {
		controller, err := service.NewDeviceController(profile, service.ControllerOptions{
			ProcedureDurationMinutes: control.ProcedureDurationMinutes,
		})
		if err != nil {
			return err
		}
		backends, err := state.backends(inst)
		if err != nil {
			return fmt.Errorf("installation %s: %w", inst.Id, err)
		}
		executor := service.NewTickExecutor(service.Installation{
			Profile:    profile,
			Controller: controller,
			Feed:       backends.Feed,
			Commander:  backends.Commander,
			DryRun:     inst.DryRun,
		}, state.aligner, service.ExecutorOptions{
			Autonomy:    control.Autonomy(),
			StepTimeout: control.StepTimeout(),
			SettleDelay: control.SettleDelay(),
		}, logger)
		reporter := service.NewFeedbackReporter(inst.Id, backends.Sink, control.FeedbackTimeout(), logger)
		opts := InstallationOptions{
			Enabled:          persistedSwitch(backends.Switches, inst, logger),
			DryRun:           inst.DryRun,
			TickTimeout:      control.TickTimeout(),
			FailureThreshold: control.FailureThreshold,
			Switches:         backends.Switches,
		}
		producer = func() actor.Actor {
			return NewInstallationActor(profile, executor, state.aligner, reporter, state.eventStream, opts, state.logger)
		}
		configured = profile
		logger.Info("master@starting installation ready", zap.String("dialect", string(profile.Dialect)), zap.Bool("dry_run", inst.DryRun))
	}

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)

	pid, err := ctx.SpawnNamed(actor.PropsFromProducer(producer, actor.WithSupervisor(supervisor)), installationActorName(inst.Id))
	if err != nil {
		return err
	}
	state.installations[inst.Id] = pid
	state.targets = append(state.targets, DiscoveryTarget{InstallationId: inst.Id, Dialect: configured.Dialect})
	return nil
}

// persistedSwitch prefers the last runtime switch over the configured one.
func persistedSwitch(switches port.SwitchStore, inst config.InstallationConfig, logger *zap.Logger) bool {
	if switches == nil {
		return inst.Enabled
	}
	enabled, err := switches.LoadEnabled(inst.Id)
	if err != nil {
		logger.Warn("master@starting cannot read optimization switch", zap.Error(err))
		return inst.Enabled
	}
	if enabled == nil {
		return inst.Enabled
	}
	return *enabled
}

func (state *MasterOfPuppetsActor) misconfigured(installationId string, dialect domain.Dialect, cause error) actor.Producer {
	var cfgErr *domain.ConfigurationError
	if !errors.As(cause, &cfgErr) {
		cause = &domain.ConfigurationError{InstallationID: installationId, Dialect: dialect, Reason: cause.Error()}
	}
	state.logger.Error("master@starting installation misconfigured", zap.String("installation", installationId), zap.Error(cause))
	return func() actor.Actor {
		return NewMisconfiguredInstallationActor(installationId, dialect, cause, state.eventStream, state.logger)
	}
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(state.config, state.targets, state.mqttActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func unknownInstallationResponse(msg domain.InstallationRequest) any {
	mixIn := domain.ActorResponseMixIn{
		ResponseError: fmt.Errorf("%w: %s", domain.ErrUnknownInstallation, msg.Installation()),
	}
	switch msg.(type) {
	case domain.GetInstallationStatusRequest:
		return domain.GetInstallationStatusResponse{ActorResponseMixIn: mixIn}
	case domain.TriggerTickRequest:
		return domain.TriggerTickResponse{ActorResponseMixIn: mixIn}
	case domain.SetOptimizationEnabledRequest:
		return domain.SetOptimizationEnabledResponse{ActorResponseMixIn: mixIn}
	}
	return nil
}

func (state *healthCheckResult) reset() {
	state.mqttActorHealthy = false
	state.expected = 0
	state.checksReceived = 0
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	return state.expected == 0 || state.mqttActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	respond(ctx, state.respondTo, resp)
}
