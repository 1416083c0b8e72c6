// Package hub implements the client for the Hub API, the external directory
// service that owns agent configuration, inbox and discovery signals, and
// activation history.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/fleetd/fleetd/internal/common/config"
	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// Client is the Hub API contract consumed by the scheduler and the runner.
type Client interface {
	// ListAgents returns the current fleet configuration.
	ListAgents(ctx context.Context) ([]v1.AgentConfig, error)

	// InboxDepth returns the number of pending inbox items for an agent.
	InboxDepth(ctx context.Context, agentID string) (int, error)

	// DiscoveryDue reports whether the agent's exploration signal is set.
	DiscoveryDue(ctx context.Context, agentID string) (bool, error)

	// LastActivation returns when the agent was last activated; the zero
	// time means never.
	LastActivation(ctx context.Context, agentID string) (time.Time, error)

	// ReportActivation submits the aggregated metrics of a finished activation.
	ReportActivation(ctx context.Context, act *v1.Activation, metrics *v1.ActivationMetrics) error
}

// HTTPClient implements Client over the Hub's JSON HTTP API. Transient
// failures are retried with backoff; exhaustion surfaces as a
// TransientCoordinationError so callers abort the pass and retry next poll.
type HTTPClient struct {
	baseURL  string
	http     *http.Client
	attempts int
	logger   *logger.Logger
}

// NewHTTPClient creates a Hub client from configuration.
func NewHTTPClient(cfg config.HubConfig, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:  cfg.URL,
		http:     &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		attempts: cfg.RetryAttempts,
		logger:   log.WithFields(zap.String("component", "hub_client")),
	}
}

type inboxDepthResponse struct {
	AgentID string `json:"agent_id"`
	Depth   int    `json:"depth"`
}

type discoveryDueResponse struct {
	AgentID string `json:"agent_id"`
	Due     bool   `json:"due"`
}

type lastActivationResponse struct {
	AgentID          string     `json:"agent_id"`
	LastActivationAt *time.Time `json:"last_activation_at"`
}

type activationReport struct {
	Activation *v1.Activation        `json:"activation"`
	Metrics    *v1.ActivationMetrics `json:"metrics"`
}

// ListAgents fetches the fleet from GET /api/v1/agents.
func (c *HTTPClient) ListAgents(ctx context.Context) ([]v1.AgentConfig, error) {
	var agents []v1.AgentConfig
	if err := c.get(ctx, "/api/v1/agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// InboxDepth fetches GET /api/v1/agents/{id}/inbox/depth.
func (c *HTTPClient) InboxDepth(ctx context.Context, agentID string) (int, error) {
	var resp inboxDepthResponse
	if err := c.get(ctx, fmt.Sprintf("/api/v1/agents/%s/inbox/depth", url.PathEscape(agentID)), &resp); err != nil {
		return 0, err
	}
	return resp.Depth, nil
}

// DiscoveryDue fetches GET /api/v1/agents/{id}/discovery/due.
func (c *HTTPClient) DiscoveryDue(ctx context.Context, agentID string) (bool, error) {
	var resp discoveryDueResponse
	if err := c.get(ctx, fmt.Sprintf("/api/v1/agents/%s/discovery/due", url.PathEscape(agentID)), &resp); err != nil {
		return false, err
	}
	return resp.Due, nil
}

// LastActivation fetches GET /api/v1/agents/{id}/activations/last.
func (c *HTTPClient) LastActivation(ctx context.Context, agentID string) (time.Time, error) {
	var resp lastActivationResponse
	if err := c.get(ctx, fmt.Sprintf("/api/v1/agents/%s/activations/last", url.PathEscape(agentID)), &resp); err != nil {
		return time.Time{}, err
	}
	if resp.LastActivationAt == nil {
		return time.Time{}, nil
	}
	return *resp.LastActivationAt, nil
}

// ReportActivation posts the final metrics to POST /api/v1/activations/report.
func (c *HTTPClient) ReportActivation(ctx context.Context, act *v1.Activation, metrics *v1.ActivationMetrics) error {
	body, err := json.Marshal(activationReport{Activation: act, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("marshal activation report: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/v1/activations/report", body, nil)
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(c.attempts)),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)

	err := r.Do(func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("hub returned %d for %s %s", resp.StatusCode, method, path)
		}
		if resp.StatusCode >= 400 {
			// 4xx is not transient; do not burn retries on it.
			return retry.Unrecoverable(fmt.Errorf("hub rejected %s %s: %d", method, path, resp.StatusCode))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode hub response for %s: %w", path, err))
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("hub request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return cerrors.Transient(fmt.Sprintf("hub unreachable: %s %s", method, path), err)
	}
	return nil
}
