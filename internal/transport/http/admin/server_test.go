package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"maestro/internal/gateway/analysis"
	"maestro/internal/gateway/optimizer"
	"maestro/internal/gateway/portfolio"
	"maestro/internal/orchestrator"
	"maestro/internal/registry"
	"maestro/internal/scheduler"
	"maestro/internal/stats"
	"maestro/internal/store/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRegistryYAML = `
agents:
  - name: risk_manager
    endpoint: http://localhost:8013
    interval_seconds: 120
    priority: 0
    resource_intensive: true
    max_runtime_seconds: 120
    max_retries: 3
    notify_channel: "#risk-manager"
  - name: market_analyst
    endpoint: http://localhost:8011
    interval_seconds: 300
    priority: 1
    resource_intensive: true
    max_runtime_seconds: 180
    max_retries: 3
    notify_channel: "#market-analyst"
`

type stubRunner struct{}

func (stubRunner) RunAnalysis(context.Context, registry.Descriptor) (analysis.Verdict, error) {
	return analysis.Verdict{}, nil
}

type stubPoller struct{}

func (stubPoller) RiskAssessment(context.Context, string) (analysis.Verdict, error) {
	return analysis.Verdict{RiskLevel: "LOW"}, nil
}

func (stubPoller) MarketAnalysis(context.Context, string) (analysis.Verdict, error) {
	return analysis.Verdict{Sentiment: "NEUTRAL"}, nil
}

type stubPortfolio struct{}

func (stubPortfolio) DailyProfitStatus(context.Context) (portfolio.ProfitStatus, error) {
	return portfolio.ProfitStatus{}, nil
}

func (stubPortfolio) Portfolio(context.Context) (portfolio.Snapshot, error) {
	return portfolio.Snapshot{}, nil
}

func (stubPortfolio) ExecuteTrade(context.Context, portfolio.TradeRequest) (portfolio.TradeResult, error) {
	return portfolio.TradeResult{Status: "executed"}, nil
}

type stubOptimizer struct{}

func (stubOptimizer) Health(context.Context) (optimizer.Health, error) {
	return optimizer.Health{IsOptimizing: true}, nil
}

func (stubOptimizer) StartMonitoring(context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *orchestrator.Engine, *audit.Store) {
	t.Helper()
	regPath := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(regPath, []byte(testRegistryYAML), 0o644))
	reg, err := registry.NewRegistry(regPath, false)
	require.NoError(t, err)

	sched := scheduler.New(scheduler.Params{
		Registry:      reg,
		Runner:        stubRunner{},
		Stats:         stats.NewRunStats(),
		Cooldown:      30 * time.Second,
		ErrorCooldown: 300 * time.Second,
	})
	engine := orchestrator.NewEngine(orchestrator.EngineParams{
		Registry:  reg,
		Analysis:  stubPoller{},
		Portfolio: stubPortfolio{},
		Optimizer: stubOptimizer{},
		Interval:  time.Minute,
	})

	auditStore, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { auditStore.Close() })

	server, err := NewServer(":0", &Router{
		Scheduler:     sched,
		SchedulerLoop: scheduler.NewLoop(scheduler.LoopParams{Scheduler: sched}),
		Engine:        engine,
		EngineLoop:    orchestrator.NewLoop(engine, nil, ""),
		Registry:      reg,
		Audit:         auditStore,
	})
	require.NoError(t, err)
	return server, engine, auditStore
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer(t)
	w, body := doJSON(t, server.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestSchedulerStatusEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	w, body := doJSON(t, server.Handler(), http.MethodGet, "/api/scheduler/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["running"])

	snapshot, ok := body["snapshot"].(map[string]any)
	require.True(t, ok)
	agents, ok := snapshot["agents"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, agents, "risk_manager")
	assert.Contains(t, agents, "market_analyst")
}

func TestOrchestratorManualCycle(t *testing.T) {
	server, _, _ := newTestServer(t)
	w, body := doJSON(t, server.Handler(), http.MethodPost, "/api/orchestrator/cycle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["cycle_number"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestConfigUpdateValidatesRange(t *testing.T) {
	server, engine, _ := newTestServer(t)

	w, body := doJSON(t, server.Handler(), http.MethodPost, "/api/config/update",
		`{"key": "orchestration_interval", "value": 5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "between")
	assert.Equal(t, time.Minute, engine.Interval(), "rejected update must not apply")

	w, _ = doJSON(t, server.Handler(), http.MethodPost, "/api/config/update",
		`{"key": "orchestration_interval", "value": 4000}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigUpdateAppliesAndAudits(t *testing.T) {
	server, engine, auditStore := newTestServer(t)

	w, body := doJSON(t, server.Handler(), http.MethodPost, "/api/config/update",
		`{"key": "orchestration_interval", "value": 120}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(60), body["old_value"])
	assert.Equal(t, float64(120), body["new_value"])
	assert.Equal(t, 120*time.Second, engine.Interval())

	entries, err := auditStore.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "orchestration_interval", entries[0].Key)
	assert.Equal(t, "60", entries[0].OldValue)
	assert.Equal(t, "120", entries[0].NewValue)
}

func TestConfigUpdateRejectsUnknownKey(t *testing.T) {
	server, _, _ := newTestServer(t)
	w, body := doJSON(t, server.Handler(), http.MethodPost, "/api/config/update",
		`{"key": "log_level", "value": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "unsupported")
}

func TestAgentsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	w, body := doJSON(t, server.Handler(), http.MethodGet, "/api/agents", "")
	require.Equal(t, http.StatusOK, w.Code)
	agents, ok := body["agents"].([]any)
	require.True(t, ok)
	assert.Len(t, agents, 2)
}

func TestRunsEndpointWithoutStore(t *testing.T) {
	server, _, _ := newTestServer(t)
	w, body := doJSON(t, server.Handler(), http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, body["error"], "disabled")
}
