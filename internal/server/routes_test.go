package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/berfenger/battexec/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubMaster answers like the master actor for a single installation "home".
func stubMaster(ctx actor.Context) {
	unknown := func(id string) domain.ActorResponseMixIn {
		return domain.ActorResponseMixIn{ResponseError: fmt.Errorf("%w: %s", domain.ErrUnknownInstallation, id)}
	}
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: true})
	case domain.GetStatusRequest:
		ctx.Respond(domain.GetStatusResponse{Installations: []domain.InstallationStatus{{
			InstallationID: "home",
			Health:         domain.HEALTH_HEALTHY,
			State:          "idle",
		}}})
	case domain.GetInstallationStatusRequest:
		if msg.InstallationId != "home" {
			ctx.Respond(domain.GetInstallationStatusResponse{ActorResponseMixIn: unknown(msg.InstallationId)})
			return
		}
		ctx.Respond(domain.GetInstallationStatusResponse{Status: domain.InstallationStatus{InstallationID: "home", State: "idle"}})
	case domain.TriggerTickRequest:
		if msg.InstallationId != "home" {
			ctx.Respond(domain.TriggerTickResponse{ActorResponseMixIn: unknown(msg.InstallationId)})
			return
		}
		ctx.Respond(domain.TriggerTickResponse{Record: &domain.ExecutionRecord{
			ID:      "rec-1",
			Trigger: domain.TRIGGER_MANUAL,
			Outcome: domain.OUTCOME_SUCCESS,
		}})
	case domain.SetOptimizationEnabledRequest:
		ctx.Respond(domain.SetOptimizationEnabledResponse{Enabled: msg.Enabled})
	}
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	system := actor.NewActorSystem()
	pid := system.Root.Spawn(actor.PropsFromFunc(stubMaster))
	t.Cleanup(system.Shutdown)
	return newServer(util.LoadTestConfig(), system.Root, pid).RegisterRoutes()
}

func do(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/healthcheck")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())
}

func TestStatus(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Installations, 1)
	assert.Equal(t, "home", body.Installations[0].InstallationID)
	assert.Equal(t, domain.HEALTH_HEALTHY, body.Installations[0].Health)
}

func TestTriggerReturnsRecord(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodPost, "/installations/home/trigger")
	require.Equal(t, http.StatusOK, rec.Code)

	var record domain.ExecutionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "rec-1", record.ID)
	assert.Equal(t, domain.OUTCOME_SUCCESS, record.Outcome)
}

func TestUnknownInstallationIsNotFound(t *testing.T) {
	handler := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodPost, "/installations/garage/trigger").Code)
	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/installations/garage/status").Code)
}

func TestEnableDisable(t *testing.T) {
	handler := newTestServer(t)

	rec := do(t, handler, http.MethodPost, "/installations/home/disable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"optimization_enabled":false}`, rec.Body.String())

	rec = do(t, handler, http.MethodPost, "/installations/home/enable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"optimization_enabled":true}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
