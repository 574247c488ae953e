package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const statusJSON = `{"automatic_control_enabled": true, "last_run_id": 7}`

const planJSON = `{
  "run_id": 7,
  "controls": [
    {"target_timestamp": "2024-05-01T10:45:00Z", "control_action": "force_charge", "power_setpoint": 2.5},
    {"target_timestamp": "2024-05-01T11:00:00Z", "control_action": "force_discharge", "power_setpoint": -3.0, "run_id": 8},
    {"target_timestamp": "not a time", "control_action": "self_use", "power_setpoint": 0},
    {"target_timestamp": "2024-05-01T11:15:00Z", "control_action": "turbo", "power_setpoint": 1}
  ]
}`

// upstream serves the plan and status documents.
func upstream(t *testing.T, plan, status string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case PLAN_PATH:
			_, _ = w.Write([]byte(plan))
		case STATUS_PATH:
			_, _ = w.Write([]byte(status))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPlan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case PLAN_PATH:
			_, _ = w.Write([]byte(planJSON))
		case STATUS_PATH:
			_, _ = w.Write([]byte(statusJSON))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", "secret", nil, time.Second, zap.NewNop())
	require.NoError(t, err)
	plan, err := client.FetchPlan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.Decisions, 2)
	require.NotNil(t, plan.AutomaticControlEnabled)
	assert.True(t, *plan.AutomaticControlEnabled)
	assert.False(t, plan.FetchedAt.IsZero())

	first := plan.Decisions[0]
	assert.Equal(t, domain.MODE_FORCE_CHARGE, first.Mode)
	assert.Equal(t, 2.5, first.PowerKw)
	assert.Equal(t, int64(7), first.SourceRunID)
	assert.True(t, first.StartTime.Equal(time.Date(2024, 5, 1, 10, 45, 0, 0, time.UTC)))

	second := plan.Decisions[1]
	assert.Equal(t, domain.MODE_FORCE_DISCHARGE, second.Mode)
	assert.Equal(t, 3.0, second.PowerKw)
	assert.Equal(t, int64(8), second.SourceRunID)
}

func TestMissingAutomaticControlFlagMeansDisabled(t *testing.T) {
	srv := upstream(t, planJSON, `{"last_run_id": 7}`)

	client, err := NewClient(srv.URL, "", nil, time.Second, zap.NewNop())
	require.NoError(t, err)
	plan, err := client.FetchPlan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, plan.AutomaticControlEnabled)
	assert.False(t, *plan.AutomaticControlEnabled)
	assert.Len(t, plan.Decisions, 2)
}

func TestStatusFailureFailsThePull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == STATUS_PATH {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(planJSON))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "", nil, time.Second, zap.NewNop())
	require.NoError(t, err)
	_, err = client.FetchPlan(context.Background())
	var connErr *domain.ConnectivityError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, STATUS_PATH, connErr.Endpoint)
}

func TestZonelessTimestampsUseClientLocation(t *testing.T) {
	srv := upstream(t, `{
  "run_id": 3,
  "controls": [
    {"target_timestamp": "2024-05-01T10:45:00", "control_action": "self_use", "power_setpoint": 0},
    {"target_timestamp": "2024-05-01 11:00:00.000", "control_action": "backup", "power_setpoint": 0},
    {"target_timestamp": "2024-05-01T11:15:00+00:00", "control_action": "self_use", "power_setpoint": 0}
  ]
}`, statusJSON)

	cest := time.FixedZone("CEST", 2*60*60)
	client, err := NewClient(srv.URL, "", cest, time.Second, zap.NewNop())
	require.NoError(t, err)
	plan, err := client.FetchPlan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Decisions, 3)

	assert.True(t, plan.Decisions[0].StartTime.Equal(time.Date(2024, 5, 1, 8, 45, 0, 0, time.UTC)))
	assert.True(t, plan.Decisions[1].StartTime.Equal(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, domain.MODE_BACKUP, plan.Decisions[1].Mode)
	assert.True(t, plan.Decisions[2].StartTime.Equal(time.Date(2024, 5, 1, 11, 15, 0, 0, time.UTC)))
}

func TestServerErrorIsConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "", nil, time.Second, zap.NewNop())
	require.NoError(t, err)
	_, err = client.FetchPlan(context.Background())
	var connErr *domain.ConnectivityError
	assert.True(t, errors.As(err, &connErr))
}

func TestUnreachableIsConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(url, "", nil, time.Second, zap.NewNop())
	require.NoError(t, err)
	_, err = client.FetchPlan(context.Background())
	var connErr *domain.ConnectivityError
	assert.True(t, errors.As(err, &connErr))
}

func TestUnauthorizedIsNotRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "bad", nil, time.Second, zap.NewNop())
	require.NoError(t, err)
	_, err = client.FetchPlan(context.Background())
	require.Error(t, err)
	var connErr *domain.ConnectivityError
	assert.False(t, errors.As(err, &connErr))
}

func TestSendFeedback(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, FEEDBACK_PATH, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "secret", nil, time.Second, zap.NewNop())
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 10, 45, 0, 0, time.UTC)
	power := 2.4
	err = client.SendFeedback(context.Background(), domain.Feedback{
		DecisionRef:      domain.DecisionRef{StartTime: start, SourceRunID: 7},
		TargetTimestamp:  start,
		ExecutedAt:       start.Add(2 * time.Minute),
		Mode:             domain.MODE_FORCE_CHARGE,
		RequestedPowerKw: 2.5,
		OverallOutcome:   domain.OUTCOME_SUCCESS,
		ActualPowerKw:    &power,
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T10:45:00Z", body["target_timestamp"])
	assert.Equal(t, "success", body["overall_outcome"])
	assert.Equal(t, 2.4, body["actual_power"])
	assert.NotContains(t, body, "actual_soc")
}

func TestEmptyBaseURL(t *testing.T) {
	_, err := NewClient("", "", nil, 0, zap.NewNop())
	assert.Error(t, err)
}
