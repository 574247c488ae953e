package actor

import (
	"testing"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/util"
	"github.com/berfenger/battexec/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := eventstream.EventStream{}

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, &es, logger) })
	pid := context.Spawn(props)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)

	power := 1.5
	es.Publish(domain.InstallationStatusEvent{
		Status: domain.InstallationStatus{
			InstallationID:      "home",
			OptimizationEnabled: true,
			Health:              domain.HEALTH_HEALTHY,
			LastExecution: &domain.ExecutionRecord{
				Outcome:       domain.OUTCOME_SUCCESS,
				Mode:          domain.MODE_FORCE_CHARGE,
				DispatchedKw:  2,
				ActualPowerKw: &power,
			},
		},
	})
	// unrelated events are ignored
	es.Publish("noise")

	var published []domain.SensorUpdateEvent
	assert.Eventually(t, func() bool {
		result, err := context.RequestFuture(pid, GetPublishedRequest{}, time.Second).Result()
		if err != nil {
			return false
		}
		published = result.(GetPublishedResponse).Events
		return len(published) == 7
	}, 2*time.Second, 50*time.Millisecond)

	ids := make([]string, 0, len(published))
	for _, e := range published {
		ids = append(ids, e.SensorId())
	}
	assert.Contains(t, ids, "home_health")
	assert.Contains(t, ids, "home_optimization")
	assert.Contains(t, ids, "home_actual_power")

	context.Stop(pid)

	time.Sleep(100 * time.Millisecond)

	as.Shutdown()
}
