package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetd/fleetd/internal/common/config"
	cerrors "github.com/fleetd/fleetd/internal/common/errors"
	"github.com/fleetd/fleetd/internal/common/logger"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

func newClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.HubConfig{
		URL:            srv.URL,
		RequestTimeout: 5,
		RetryAttempts:  3,
	}, logger.Default())
}

func TestListAgents(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/agents", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]v1.AgentConfig{
			{ID: "a1", Name: "explorer", Mode: v1.ActivationModeHybrid, Executor: "claude-code"},
		})
	}))

	agents, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].ID)
	assert.Equal(t, v1.ActivationModeHybrid, agents[0].Mode)
}

func TestInboxDepthAndDiscoveryDue(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/agents/a1/inbox/depth":
			_ = json.NewEncoder(w).Encode(inboxDepthResponse{AgentID: "a1", Depth: 4})
		case "/api/v1/agents/a1/discovery/due":
			_ = json.NewEncoder(w).Encode(discoveryDueResponse{AgentID: "a1", Due: true})
		default:
			http.NotFound(w, r)
		}
	}))

	depth, err := c.InboxDepth(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 4, depth)

	due, err := c.DiscoveryDue(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, due)
}

func TestLastActivationNeverIsZeroTime(t *testing.T) {
	when := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/agents/a1/activations/last":
			_ = json.NewEncoder(w).Encode(lastActivationResponse{AgentID: "a1", LastActivationAt: &when})
		case "/api/v1/agents/fresh/activations/last":
			_ = json.NewEncoder(w).Encode(lastActivationResponse{AgentID: "fresh"})
		default:
			http.NotFound(w, r)
		}
	}))

	got, err := c.LastActivation(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, when.Equal(got))

	never, err := c.LastActivation(context.Background(), "fresh")
	require.NoError(t, err)
	assert.True(t, never.IsZero())
}

func TestReportActivation(t *testing.T) {
	var got activationReport
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/activations/report", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	act := &v1.Activation{ID: "act-1", AgentID: "a1", RunnerID: "runner-1", Status: v1.ActivationStatusCompleted}
	metrics := &v1.ActivationMetrics{Iterations: 2, TokensInput: 150, FinalStatus: v1.ActivationStatusCompleted}

	require.NoError(t, c.ReportActivation(context.Background(), act, metrics))
	assert.Equal(t, "act-1", got.Activation.ID)
	assert.Equal(t, 2, got.Metrics.Iterations)
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(inboxDepthResponse{AgentID: "a1", Depth: 1})
	}))

	depth, err := c.InboxDepth(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExhaustedRetriesAreTransient(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.InboxDepth(context.Background(), "a1")
	require.Error(t, err)
	assert.True(t, cerrors.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.InboxDepth(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not burn retries")
}
