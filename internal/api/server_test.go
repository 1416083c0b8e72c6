package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetd/fleetd/internal/common/config"
	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/runner"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := logger.Default()
	r := runner.New(
		runner.Config{RunnerID: "runner-test"},
		nil, nil, nil, nil, nil, runner.NewMetrics(nil), log)
	return NewServer(config.ServerConfig{}, r, prometheus.NewRegistry(), log)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runner/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RunnerID string `json:"runner_id"`
		Running  bool   `json:"running"`
		Uptime   string `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "runner-test", body.RunnerID)
	assert.False(t, body.Running)
	assert.NotEmpty(t, body.Uptime)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	log := logger.Default()
	r := runner.New(
		runner.Config{RunnerID: "runner-test"},
		nil, nil, nil, nil, nil, runner.NewMetrics(reg), log)
	s := NewServer(config.ServerConfig{}, r, reg, log)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fleetd_polls_total")
}
