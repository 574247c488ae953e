package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/berfenger/battexec/internal/core/domain"
	"go.uber.org/zap"
)

const (
	PLAN_PATH     = "/api/v1/control/plan"
	STATUS_PATH   = "/api/v1/control/status"
	FEEDBACK_PATH = "/api/v1/control/execution_feedback"

	DEFAULT_TIMEOUT = 10 * time.Second
)

// timestamps without an offset are read in the client location
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Client talks to the upstream optimization service of one installation.
// It implements both the decision feed and the feedback sink.
type Client struct {
	baseURL  string
	apiKey   string
	location *time.Location
	client   *http.Client
	logger   *zap.Logger
}

func NewClient(baseURL, apiKey string, location *time.Location, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("feed: empty base url")
	}
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}
	if location == nil {
		location = time.UTC
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		location: location,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

type planResponse struct {
	Controls []controlEntry `json:"controls"`
	RunID    *int64         `json:"run_id,omitempty"`
}

type statusResponse struct {
	AutomaticControlEnabled *bool `json:"automatic_control_enabled,omitempty"`
}

type controlEntry struct {
	TargetTimestamp string  `json:"target_timestamp"`
	ControlAction   string  `json:"control_action"`
	PowerSetpoint   float64 `json:"power_setpoint"`
	RunID           *int64  `json:"run_id,omitempty"`
}

// FetchPlan pulls the control plan and the upstream automatic control flag.
// The plan is only good when both answered.
func (c *Client) FetchPlan(ctx context.Context) (*domain.Plan, error) {
	var resp planResponse
	if err := c.doJSON(ctx, http.MethodGet, PLAN_PATH, nil, &resp); err != nil {
		return nil, err
	}
	enabled, err := c.AutomaticControlEnabled(ctx)
	if err != nil {
		return nil, err
	}
	plan := &domain.Plan{
		AutomaticControlEnabled: &enabled,
		FetchedAt:               time.Now(),
	}
	for _, entry := range resp.Controls {
		decision, err := entry.decision(resp.RunID, c.location)
		if err != nil {
			c.logger.Warn("feed: ignoring control entry", zap.String("target_timestamp", entry.TargetTimestamp), zap.Error(err))
			continue
		}
		plan.Decisions = append(plan.Decisions, decision)
	}
	return plan, nil
}

// AutomaticControlEnabled reads the upstream switch. A status without the
// flag means automatic control is off.
func (c *Client) AutomaticControlEnabled(ctx context.Context) (bool, error) {
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, STATUS_PATH, nil, &resp); err != nil {
		return false, err
	}
	return resp.AutomaticControlEnabled != nil && *resp.AutomaticControlEnabled, nil
}

func (e controlEntry) decision(planRunID *int64, location *time.Location) (domain.ControlDecision, error) {
	start, err := parseTimestamp(e.TargetTimestamp, location)
	if err != nil {
		return domain.ControlDecision{}, err
	}
	mode, err := domain.ParseMode(e.ControlAction)
	if err != nil {
		return domain.ControlDecision{}, err
	}
	decision := domain.ControlDecision{
		StartTime: start,
		Mode:      mode,
		// discharge setpoints may come signed
		PowerKw: math.Abs(e.PowerSetpoint),
	}
	switch {
	case e.RunID != nil:
		decision.SourceRunID = *e.RunID
	case planRunID != nil:
		decision.SourceRunID = *planRunID
	}
	return decision, nil
}

func parseTimestamp(value string, location *time.Location) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	for _, layout := range zonelessLayouts {
		if ts, err := time.ParseInLocation(layout, value, location); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func (c *Client) SendFeedback(ctx context.Context, feedback domain.Feedback) error {
	return c.doJSON(ctx, http.MethodPost, FEEDBACK_PATH, feedback, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.ConnectivityError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &domain.ConnectivityError{Endpoint: path, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("feed: %s rejected the api key (http %d)", path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("feed: %s http %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("feed: decoding %s: %w", path, err)
	}
	return nil
}
