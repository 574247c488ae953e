package actor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/core/port"
	"github.com/berfenger/battexec/internal/core/service"
	"github.com/berfenger/battexec/internal/util"
	"github.com/berfenger/battexec/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// blockingCommander holds every write until released, ignoring the context.
type blockingCommander struct {
	*util.FakeCommander
	release chan struct{}
}

func (c *blockingCommander) WriteValue(ctx context.Context, handle string, value string) error {
	<-c.release
	return c.FakeCommander.WriteValue(ctx, handle, value)
}

type installationFixture struct {
	system *actor.ActorSystem
	pid    *actor.PID
	sink   *util.FakeSink
	es     *eventstream.EventStream
}

func testProfile(t *testing.T) domain.DeviceProfile {
	cfg := util.LoadTestConfig()
	profile, err := cfg.Installations[0].DeviceProfile()
	require.NoError(t, err)
	profile.Dialect = domain.DIALECT_STEPPED_100W
	return profile
}

func recentPlan(mode domain.Mode, powerKw float64) *domain.Plan {
	return &domain.Plan{Decisions: []domain.ControlDecision{{
		StartTime:   time.Now().Add(-time.Minute),
		Mode:        mode,
		PowerKw:     powerKw,
		SourceRunID: 1,
	}}}
}

func newInstallationFixture(t *testing.T, feed port.DecisionFeed, commander port.DeviceCommander, opts InstallationOptions) *installationFixture {
	t.Helper()
	logger := zap.Must(zap.NewDevelopment())
	profile := testProfile(t)
	ctrl, err := service.NewDeviceController(profile, service.ControllerOptions{})
	require.NoError(t, err)
	aligner, err := service.NewAligner(service.QUARTER_HOUR_CRON, time.UTC, service.DEFAULT_LOOKBACK)
	require.NoError(t, err)
	executor := service.NewTickExecutor(service.Installation{
		Profile:    profile,
		Controller: ctrl,
		Feed:       feed,
		Commander:  commander,
	}, aligner, service.ExecutorOptions{
		Autonomy:    time.Hour,
		StepTimeout: time.Second,
		SettleDelay: time.Millisecond,
	}, logger)

	f := &installationFixture{
		system: actorutil.NewActorSystemWithZapLogger(logger),
		sink:   util.NewFakeSink(0),
		es:     &eventstream.EventStream{},
	}
	reporter := service.NewFeedbackReporter(profile.InstallationID, f.sink, time.Second, logger)
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewInstallationActor(profile, executor, aligner, reporter, f.es, opts, logger)
	})
	f.pid = f.system.Root.Spawn(props)
	t.Cleanup(func() {
		f.system.Root.Stop(f.pid)
		f.system.Shutdown()
	})
	return f
}

func (f *installationFixture) trigger(t *testing.T, timeout time.Duration) domain.TriggerTickResponse {
	t.Helper()
	res, err := f.system.Root.RequestFuture(f.pid, domain.TriggerTickRequest{}, timeout).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.TriggerTickResponse)
	require.True(t, ok)
	return resp
}

func (f *installationFixture) status(t *testing.T) domain.InstallationStatus {
	t.Helper()
	res, err := f.system.Root.RequestFuture(f.pid, domain.GetInstallationStatusRequest{}, time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.GetInstallationStatusResponse)
	require.True(t, ok)
	return resp.Status
}

func TestManualTriggerDispatchesAndReports(t *testing.T) {
	commander := util.NewFakeCommander()
	f := newInstallationFixture(t, util.NewFakeFeed(recentPlan(domain.MODE_FORCE_CHARGE, 2.0)), commander,
		InstallationOptions{Enabled: true, TickTimeout: 5 * time.Second})

	var statusEvents atomic.Int32
	sub := f.es.Subscribe(func(evt interface{}) {
		if _, ok := evt.(domain.InstallationStatusEvent); ok {
			statusEvents.Add(1)
		}
	})
	defer f.es.Unsubscribe(sub)

	resp := f.trigger(t, 5*time.Second)
	require.False(t, resp.HasResponseError())
	require.NotNil(t, resp.Record)
	assert.Equal(t, domain.OUTCOME_SUCCESS, resp.Record.Outcome)
	assert.Equal(t, domain.TRIGGER_MANUAL, resp.Record.Trigger)
	require.Len(t, commander.Calls(), 2)
	assert.Equal(t, "2000", commander.Calls()[1].Value)

	assert.Eventually(t, func() bool { return len(f.sink.Reports()) == 1 }, 2*time.Second, 20*time.Millisecond)

	status := f.status(t)
	assert.Equal(t, "idle", status.State)
	assert.Equal(t, domain.HEALTH_HEALTHY, status.Health)
	require.NotNil(t, status.LastExecution)
	assert.Equal(t, resp.Record.ID, status.LastExecution.ID)
	require.NotNil(t, status.NextExecution)
	assert.Zero(t, status.NextExecution.Minute()%15)
	assert.Greater(t, statusEvents.Load(), int32(0))

	// a manual trigger re-applies the current decision
	resp = f.trigger(t, 5*time.Second)
	assert.Equal(t, domain.OUTCOME_SUCCESS, resp.Record.Outcome)
	assert.Len(t, commander.Calls(), 4)
}

func TestDisabledInstallationSkips(t *testing.T) {
	commander := util.NewFakeCommander()
	f := newInstallationFixture(t, util.NewFakeFeed(recentPlan(domain.MODE_FORCE_CHARGE, 2.0)), commander,
		InstallationOptions{Enabled: true})

	res, err := f.system.Root.RequestFuture(f.pid, domain.SetOptimizationEnabledRequest{Enabled: false}, time.Second).Result()
	require.NoError(t, err)
	assert.False(t, res.(domain.SetOptimizationEnabledResponse).Enabled)

	resp := f.trigger(t, 5*time.Second)
	assert.Equal(t, domain.OUTCOME_SKIPPED, resp.Record.Outcome)
	assert.Equal(t, service.DETAIL_DISABLED, resp.Record.Detail)
	assert.Empty(t, commander.Calls())
	assert.False(t, f.status(t).OptimizationEnabled)
}

func TestStatusAnsweredWhileDispatching(t *testing.T) {
	commander := &blockingCommander{FakeCommander: util.NewFakeCommander(), release: make(chan struct{})}
	f := newInstallationFixture(t, util.NewFakeFeed(recentPlan(domain.MODE_FORCE_CHARGE, 2.0)), commander,
		InstallationOptions{Enabled: true, TickTimeout: 5 * time.Second})

	first := f.system.Root.RequestFuture(f.pid, domain.TriggerTickRequest{}, 10*time.Second)
	assert.Eventually(t, func() bool { return f.status(t).State == "dispatching" }, 2*time.Second, 20*time.Millisecond)

	// queued behind the running tick
	second := f.system.Root.RequestFuture(f.pid, domain.TriggerTickRequest{}, 10*time.Second)

	close(commander.release)

	res, err := first.Result()
	require.NoError(t, err)
	assert.Equal(t, domain.OUTCOME_SUCCESS, res.(domain.TriggerTickResponse).Record.Outcome)
	res, err = second.Result()
	require.NoError(t, err)
	assert.Equal(t, domain.OUTCOME_SUCCESS, res.(domain.TriggerTickResponse).Record.Outcome)
	// the queued trigger ran after the first one, never alongside it
	assert.Len(t, commander.Calls(), 4)
}

func TestDisableMidDispatchLetsSequenceFinish(t *testing.T) {
	commander := &blockingCommander{FakeCommander: util.NewFakeCommander(), release: make(chan struct{})}
	f := newInstallationFixture(t, util.NewFakeFeed(recentPlan(domain.MODE_FORCE_CHARGE, 2.0)), commander,
		InstallationOptions{Enabled: true, TickTimeout: 5 * time.Second})

	pending := f.system.Root.RequestFuture(f.pid, domain.TriggerTickRequest{}, 10*time.Second)
	assert.Eventually(t, func() bool { return f.status(t).State == "dispatching" }, 2*time.Second, 20*time.Millisecond)

	res, err := f.system.Root.RequestFuture(f.pid, domain.SetOptimizationEnabledRequest{Enabled: false}, time.Second).Result()
	require.NoError(t, err)
	assert.False(t, res.(domain.SetOptimizationEnabledResponse).Enabled)

	close(commander.release)

	res, err = pending.Result()
	require.NoError(t, err)
	record := res.(domain.TriggerTickResponse).Record
	require.NotNil(t, record)
	assert.Equal(t, domain.OUTCOME_SUCCESS, record.Outcome)
	require.Len(t, record.Steps, 2)
	for _, step := range record.Steps {
		assert.Equal(t, domain.STEP_OK, step.Outcome)
	}
	assert.Len(t, commander.Calls(), 2)

	// the next tick honours the switch
	resp := f.trigger(t, 5*time.Second)
	assert.Equal(t, domain.OUTCOME_SKIPPED, resp.Record.Outcome)
	assert.Equal(t, service.DETAIL_DISABLED, resp.Record.Detail)
	assert.Len(t, commander.Calls(), 2)
}

func TestHungTickIsAbandoned(t *testing.T) {
	commander := &blockingCommander{FakeCommander: util.NewFakeCommander(), release: make(chan struct{})}
	defer close(commander.release)
	f := newInstallationFixture(t, util.NewFakeFeed(recentPlan(domain.MODE_FORCE_CHARGE, 2.0)), commander,
		InstallationOptions{Enabled: true, TickTimeout: 100 * time.Millisecond, AbandonGrace: 100 * time.Millisecond})

	resp := f.trigger(t, 5*time.Second)
	require.NotNil(t, resp.Record)
	assert.Equal(t, domain.OUTCOME_FAILED, resp.Record.Outcome)
	assert.True(t, strings.HasPrefix(resp.Record.Detail, DETAIL_TICK_ABANDONED), resp.Record.Detail)
	assert.Equal(t, 1, f.status(t).ConsecutiveFailures)
	assert.Empty(t, f.sink.Reports())
}

func TestRepeatedFailuresDegrade(t *testing.T) {
	commander := util.NewFakeCommander().FailAlways("select.work_mode")
	f := newInstallationFixture(t, util.NewFakeFeed(recentPlan(domain.MODE_FORCE_CHARGE, 2.0)), commander,
		InstallationOptions{Enabled: true, FailureThreshold: 3})

	for i := 0; i < 3; i++ {
		resp := f.trigger(t, 5*time.Second)
		assert.Equal(t, domain.OUTCOME_FAILED, resp.Record.Outcome)
	}
	status := f.status(t)
	assert.Equal(t, domain.HEALTH_DEGRADED, status.Health)
	assert.True(t, status.NeedsAttention)
	assert.Equal(t, 3, status.ConsecutiveFailures)
}

func TestMisconfiguredInstallation(t *testing.T) {
	logger := zap.NewNop()
	system := actor.NewActorSystem()
	cause := &domain.ConfigurationError{
		InstallationID: "home",
		Dialect:        domain.DIALECT_COMMAND_MODE,
		Missing:        []domain.Role{domain.ROLE_COMMAND_MODE},
	}
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMisconfiguredInstallationActor("home", domain.DIALECT_COMMAND_MODE, cause, &eventstream.EventStream{}, logger)
	}))
	defer system.Shutdown()

	res, err := system.Root.RequestFuture(pid, domain.GetInstallationStatusRequest{}, time.Second).Result()
	require.NoError(t, err)
	status := res.(domain.GetInstallationStatusResponse).Status
	assert.Equal(t, domain.HEALTH_MISCONFIGURED, status.Health)
	assert.True(t, status.NeedsAttention)
	assert.Contains(t, status.Diagnostic, "command_mode")
	assert.Nil(t, status.NextExecution)

	res, err = system.Root.RequestFuture(pid, domain.TriggerTickRequest{}, time.Second).Result()
	require.NoError(t, err)
	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(res.(domain.TriggerTickResponse).GetResponseError(), &cfgErr))
}
