package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/core/port"
	"github.com/berfenger/battexec/internal/core/service"
	"github.com/berfenger/battexec/internal/observability/metrics"
	. "github.com/berfenger/battexec/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DEFAULT_TICK_TIMEOUT  = 2 * time.Minute
	DEFAULT_ABANDON_GRACE = 5 * time.Second

	DETAIL_TICK_ABANDONED = "tick abandoned"
)

type InstallationOptions struct {
	Enabled          bool
	DryRun           bool
	TickTimeout      time.Duration
	AbandonGrace     time.Duration
	FailureThreshold int
	// optional, keeps the switch across restarts
	Switches port.SwitchStore
}

// InstallationActor owns one installation. It arms the boundary timer and
// runs at most one tick at a time; the tick itself runs off the actor so
// status and enable requests are answered while devices are driven.
type InstallationActor struct {
	ActorWithStates
	id          string
	dialect     domain.Dialect
	opts        InstallationOptions
	executor    *service.TickExecutor
	aligner     *service.Aligner
	reporter    *service.FeedbackReporter
	health      *service.HealthTracker
	eventStream *eventstream.EventStream
	scheduler   *scheduler.TimerScheduler
	cancelTick  scheduler.CancelFunc
	stash       *Stash
	enabled     bool
	state       string
	next        *time.Time
	last        *domain.ExecutionRecord
	cause       error
	// held by the running tick, also by an abandoned one until it returns
	running sync.Mutex
	clock   func() time.Time

	logger *zap.Logger
}

// scheduled boundary tick
type installationTick struct {
}

type dispatchCompleted struct {
	record  domain.ExecutionRecord
	replyTo *actor.PID
}

func NewInstallationActor(profile domain.DeviceProfile, executor *service.TickExecutor, aligner *service.Aligner,
	reporter *service.FeedbackReporter, es *eventstream.EventStream, opts InstallationOptions, logger *zap.Logger) *InstallationActor {
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = DEFAULT_TICK_TIMEOUT
	}
	if opts.AbandonGrace <= 0 {
		opts.AbandonGrace = DEFAULT_ABANDON_GRACE
	}
	act := &InstallationActor{
		id:          profile.InstallationID,
		dialect:     profile.Dialect,
		opts:        opts,
		executor:    executor,
		aligner:     aligner,
		reporter:    reporter,
		health:      service.NewHealthTracker(opts.FailureThreshold),
		eventStream: es,
		stash:       &Stash{},
		enabled:     opts.Enabled,
		clock:       time.Now,
		logger:      ActorLogger(installationActorName(profile.InstallationID), logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(InstStartingState{actor: act})
	return act
}

// NewMisconfiguredInstallationActor only answers status requests. It never
// arms a timer nor touches a device.
func NewMisconfiguredInstallationActor(installationId string, dialect domain.Dialect, cause error,
	es *eventstream.EventStream, logger *zap.Logger) *InstallationActor {
	act := &InstallationActor{
		id:          installationId,
		dialect:     dialect,
		cause:       cause,
		health:      service.NewHealthTracker(0),
		eventStream: es,
		stash:       &Stash{},
		clock:       time.Now,
		logger:      ActorLogger(installationActorName(installationId), logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.health.Misconfigured(cause.Error())
	act.Become(InstMisconfiguredState{actor: act})
	return act
}

func installationActorName(installationId string) string {
	return fmt.Sprintf("%s_%s", domain.ACTOR_ID_INSTALLATION, installationId)
}

func (state *InstallationActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type InstStartingState struct {
	ActorState
	actor *InstallationActor
}

func (state InstStartingState) Name() string {
	return "starting"
}

func (state InstStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("installation@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.armTimer(ctx)
		state.actor.Become(InstIdleState{actor: state.actor}.OnEnter())
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("installation@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type InstIdleState struct {
	ActorState
	actor *InstallationActor
}

func (state InstIdleState) Name() string {
	return "idle"
}

func (state InstIdleState) OnEnter() InstIdleState {
	state.actor.state = state.Name()
	state.actor.publishStatus()
	return state
}

func (state InstIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case installationTick:
		state.actor.logger.Debug("installation@idle tick")
		state.actor.dispatch(ctx, domain.TRIGGER_SCHEDULE, nil)
	case domain.TriggerTickRequest:
		state.actor.logger.Info("installation@idle manual trigger")
		state.actor.dispatch(ctx, domain.TRIGGER_MANUAL, ForRequest(msg).ReplyTo(ctx))
	case *actor.Stopping:
		state.actor.stop()
	default:
		if !state.actor.common(ctx) {
			state.actor.logger.Debug("installation@idle ignored", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

// Dispatching state, stacked on idle

type InstDispatchingState struct {
	ActorState
	actor *InstallationActor
}

func (state InstDispatchingState) Name() string {
	return "dispatching"
}

func (state InstDispatchingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case installationTick, domain.TriggerTickRequest:
		// one tick at a time
		state.actor.logger.Debug("installation@dispatching stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	case dispatchCompleted:
		state.actor.complete(ctx, msg)
		state.actor.UnbecomeStacked()
		state.actor.state = InstIdleState{}.Name()
		state.actor.publishStatus()
		state.actor.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.actor.stop()
	default:
		if !state.actor.common(ctx) {
			state.actor.logger.Debug("installation@dispatching ignored", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

// Misconfigured state, terminal

type InstMisconfiguredState struct {
	ActorState
	actor *InstallationActor
}

func (state InstMisconfiguredState) Name() string {
	return "misconfigured"
}

func (state InstMisconfiguredState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.state = state.Name()
		state.actor.logger.Error("installation@misconfigured executor not started", zap.String("diagnostic", state.actor.health.Diagnostic()))
		state.actor.publishStatus()
	case domain.TriggerTickRequest:
		respond(ctx, ForRequest(msg).ReplyTo(ctx), domain.TriggerTickResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: state.actor.cause},
		})
	case domain.SetOptimizationEnabledRequest:
		respond(ctx, ForRequest(msg).ReplyTo(ctx), domain.SetOptimizationEnabledResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: state.actor.cause},
		})
	default:
		if !state.actor.common(ctx) {
			state.actor.logger.Debug("installation@misconfigured ignored", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

// common handles the requests every state answers the same way.
func (state *InstallationActor) common(ctx actor.Context) bool {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		respond(ctx, ForRequest(msg).ReplyTo(ctx), domain.ActorHealthResponse{
			Id:      installationActorName(state.id),
			Healthy: state.health.Health() == domain.HEALTH_HEALTHY,
			State:   state.state,
		})
	case domain.GetInstallationStatusRequest:
		respond(ctx, ForRequest(msg).ReplyTo(ctx), domain.GetInstallationStatusResponse{
			Status: state.status(),
		})
	case domain.SetOptimizationEnabledRequest:
		if state.enabled != msg.Enabled {
			state.logger.Info(fmt.Sprintf("installation@%s optimization switched", state.state), zap.Bool("enabled", msg.Enabled))
		}
		state.enabled = msg.Enabled
		if state.opts.Switches != nil {
			if err := state.opts.Switches.SaveEnabled(state.id, msg.Enabled); err != nil {
				state.logger.Warn("installation cannot persist optimization switch", zap.Error(err))
			}
		}
		state.publishStatus()
		respond(ctx, ForRequest(msg).ReplyTo(ctx), domain.SetOptimizationEnabledResponse{
			Enabled: state.enabled,
		})
	default:
		return false
	}
	return true
}

// dispatch re-arms the boundary timer first, then runs the tick in the
// background with a hard timeout.
func (state *InstallationActor) dispatch(ctx actor.Context, trigger domain.TickTrigger, replyTo *actor.PID) {
	state.armTimer(ctx)
	state.BecomeStacked(InstDispatchingState{actor: state})
	state.state = InstDispatchingState{}.Name()

	enabled := state.enabled
	startedAt := state.clock()
	tickTimeout := state.opts.TickTimeout

	NewBackgroundTask(ctx, func() (*dispatchCompleted, error) {
		state.running.Lock()
		defer state.running.Unlock()
		tickCtx, cancel := context.WithTimeout(context.Background(), tickTimeout)
		defer cancel()
		record := state.executor.Execute(tickCtx, trigger, enabled)
		return &dispatchCompleted{record: record, replyTo: replyTo}, nil
	}).WithTimeout(tickTimeout + state.opts.AbandonGrace).Recover(func(err error) dispatchCompleted {
		return dispatchCompleted{
			record: domain.ExecutionRecord{
				ID:             uuid.NewString(),
				InstallationID: state.id,
				Trigger:        trigger,
				DispatchedAt:   startedAt,
				Outcome:        domain.OUTCOME_FAILED,
				Detail:         fmt.Sprintf("%s: %v", DETAIL_TICK_ABANDONED, err),
			},
			replyTo: replyTo,
		}
	}).PipeToAsync(ctx.Self())
}

func (state *InstallationActor) complete(ctx actor.Context, msg dispatchCompleted) {
	record := msg.record
	state.last = &record
	state.health.Record(record.Outcome)
	metrics.SetConsecutiveFailures(state.id, state.health.ConsecutiveFailures())

	fields := []zap.Field{
		zap.String("id", record.ID),
		zap.String("trigger", string(record.Trigger)),
		zap.String("outcome", string(record.Outcome)),
		zap.String("detail", record.Detail),
	}
	switch record.Outcome {
	case domain.OUTCOME_FAILED, domain.OUTCOME_PARTIAL_FAILURE:
		state.logger.Warn("installation@dispatching tick completed", fields...)
	default:
		state.logger.Info("installation@dispatching tick completed", fields...)
	}
	if state.health.NeedsAttention() {
		state.logger.Error("installation@dispatching needs attention",
			zap.Int("consecutive_failures", state.health.ConsecutiveFailures()))
	}

	if state.reporter != nil {
		state.reporter.Report(record)
	}
	if msg.replyTo != nil {
		ctx.Send(msg.replyTo, domain.TriggerTickResponse{Record: &record})
	}
}

func (state *InstallationActor) armTimer(ctx actor.Context) {
	if state.cancelTick != nil {
		state.cancelTick()
	}
	now := state.clock()
	next := state.aligner.Next(now)
	state.next = &next
	state.cancelTick = state.scheduler.RequestOnce(next.Sub(now), ctx.Self(), installationTick{})
	state.logger.Debug("installation: next execution", zap.Time("at", next))
}

func (state *InstallationActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
}

func (state *InstallationActor) status() domain.InstallationStatus {
	status := domain.InstallationStatus{
		InstallationID:      state.id,
		Dialect:             state.dialect,
		OptimizationEnabled: state.enabled,
		DryRun:              state.opts.DryRun,
		Health:              state.health.Health(),
		NeedsAttention:      state.health.NeedsAttention(),
		ConsecutiveFailures: state.health.ConsecutiveFailures(),
		Diagnostic:          state.health.Diagnostic(),
		State:               state.state,
		NextExecution:       state.next,
	}
	if state.last != nil {
		last := *state.last
		status.LastExecution = &last
	}
	return status
}

func (state *InstallationActor) publishStatus() {
	if state.eventStream != nil {
		state.eventStream.Publish(domain.InstallationStatusEvent{Status: state.status()})
	}
}

func respond(ctx actor.Context, to *actor.PID, resp any) {
	if to != nil {
		ctx.Send(to, resp)
	}
}
