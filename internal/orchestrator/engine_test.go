package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"maestro/internal/gateway/analysis"
	"maestro/internal/gateway/optimizer"
	"maestro/internal/gateway/portfolio"
	"maestro/internal/notify"
	"maestro/internal/registry"

	"github.com/shopspring/decimal"
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

type fakePoller struct {
	mu          sync.Mutex
	risk        analysis.Verdict
	riskErr     error
	market      analysis.Verdict
	marketErr   error
	riskCalls   int
	marketCalls int
}

func (f *fakePoller) RiskAssessment(context.Context, string) (analysis.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskCalls++
	return f.risk, f.riskErr
}

func (f *fakePoller) MarketAnalysis(context.Context, string) (analysis.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketCalls++
	return f.market, f.marketErr
}

type fakePortfolio struct {
	mu        sync.Mutex
	profit    portfolio.ProfitStatus
	profitErr error
	trades    []portfolio.TradeRequest
	result    portfolio.TradeResult
	tradeErr  error
}

func (f *fakePortfolio) DailyProfitStatus(context.Context) (portfolio.ProfitStatus, error) {
	return f.profit, f.profitErr
}

func (f *fakePortfolio) Portfolio(context.Context) (portfolio.Snapshot, error) {
	return portfolio.Snapshot{
		TotalValue: decimal.NewFromInt(10000),
		BTCPrice:   decimal.NewFromInt(60000),
	}, nil
}

func (f *fakePortfolio) ExecuteTrade(_ context.Context, req portfolio.TradeRequest) (portfolio.TradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, req)
	return f.result, f.tradeErr
}

func (f *fakePortfolio) Trades() []portfolio.TradeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]portfolio.TradeRequest(nil), f.trades...)
}

type fakeOptimizer struct {
	mu      sync.Mutex
	health  optimizer.Health
	err     error
	started int
}

func (f *fakeOptimizer) Health(context.Context) (optimizer.Health, error) {
	return f.health, f.err
}

func (f *fakeOptimizer) StartMonitoring(context.Context) error {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	return nil
}

type notifyRecord struct {
	Channel  string
	Severity notify.Severity
	Text     string
}

type recordNotifier struct {
	mu   sync.Mutex
	msgs []notifyRecord
}

func (r *recordNotifier) Notify(channel string, severity notify.Severity, text string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, notifyRecord{channel, severity, text})
	r.mu.Unlock()
}

func (r *recordNotifier) Messages() []notifyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifyRecord(nil), r.msgs...)
}

func (r *recordNotifier) Count(substr string) int {
	n := 0
	for _, msg := range r.Messages() {
		if strings.Contains(msg.Text, substr) {
			n++
		}
	}
	return n
}

type fixture struct {
	engine    *Engine
	poller    *fakePoller
	portfolio *fakePortfolio
	optimizer *fakeOptimizer
	notifier  *recordNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRegistryYAML), 0o644))
	reg, err := registry.NewRegistry(path, false)
	require.NoError(t, err)

	f := &fixture{
		poller: &fakePoller{
			risk:   analysis.Verdict{Agent: "risk_manager", RiskLevel: "LOW"},
			market: analysis.Verdict{Agent: "market_analyst", Sentiment: "BULLISH", Recommendation: "BUY"},
		},
		portfolio: &fakePortfolio{result: portfolio.TradeResult{Status: "executed"}},
		optimizer: &fakeOptimizer{health: optimizer.Health{IsOptimizing: true}},
		notifier:  &recordNotifier{},
	}
	f.engine = NewEngine(EngineParams{
		Registry:      reg,
		Analysis:      f.poller,
		Portfolio:     f.portfolio,
		Optimizer:     f.optimizer,
		Notifier:      f.notifier,
		Symbol:        "BTCUSDC",
		Interval:      time.Minute,
		StatusChannel: "#agents",
	})

	now := time.Unix(1_700_000_000, 0)
	f.engine.SetClock(func() time.Time { return now })
	return f
}

func TestCycleExecutesBuyOnBullishLowRisk(t *testing.T) {
	f := newFixture(t)

	result := f.engine.RunCycle(context.Background())
	assert.Equal(t, 1, result.CycleNumber)
	assert.Contains(t, result.ActionsTaken, "Executed BUY trade for BTCUSDC")

	trades := f.portfolio.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "BUY", trades[0].Side)
	assert.Equal(t, "BTCUSDC", trades[0].Symbol)
	assert.Equal(t, "orchestration_engine", trades[0].Source)

	// executor role is inside its interval on the next cycle: still one trade
	f.engine.RunCycle(context.Background())
	assert.Len(t, f.portfolio.Trades(), 1)
}

func TestHighRiskVetoesTrade(t *testing.T) {
	f := newFixture(t)
	f.poller.risk = analysis.Verdict{Agent: "risk_manager", RiskLevel: "HIGH"}

	result := f.engine.RunCycle(context.Background())
	assert.Empty(t, f.portfolio.Trades())
	for _, action := range result.ActionsTaken {
		assert.NotContains(t, action, "BUY")
	}
}

func TestCriticalRiskVetoesTrade(t *testing.T) {
	f := newFixture(t)
	f.poller.risk = analysis.Verdict{Agent: "risk_manager", RiskLevel: "CRITICAL"}

	f.engine.RunCycle(context.Background())
	assert.Empty(t, f.portfolio.Trades())
}

func TestBearishSentimentHolds(t *testing.T) {
	f := newFixture(t)
	f.poller.market = analysis.Verdict{Agent: "market_analyst", Sentiment: "BEARISH"}

	f.engine.RunCycle(context.Background())
	assert.Empty(t, f.portfolio.Trades())
}

func TestFailedPollRetriesOnNextCycle(t *testing.T) {
	f := newFixture(t)
	f.poller.riskErr = fmt.Errorf("risk agent down")

	result := f.engine.RunCycle(context.Background())
	assert.Len(t, result.Errors, 1)

	f.poller.riskErr = nil
	f.engine.RunCycle(context.Background())

	f.poller.mu.Lock()
	defer f.poller.mu.Unlock()
	assert.Equal(t, 2, f.poller.riskCalls, "failed poll must retry next cycle, not wait out the role interval")
	assert.Equal(t, 1, f.poller.marketCalls, "successful poll waits out its interval")
}

func TestRejectedTradeRecordsError(t *testing.T) {
	f := newFixture(t)
	f.portfolio.result = portfolio.TradeResult{Status: "rejected", Error: "insufficient balance"}

	result := f.engine.RunCycle(context.Background())
	require.Len(t, f.portfolio.Trades(), 1)
	assert.Contains(t, result.Errors, "trade execution failed: insufficient balance")
	for _, action := range result.ActionsTaken {
		assert.NotContains(t, action, "Executed BUY")
	}
}

func TestTradeWaitsForBothVerdicts(t *testing.T) {
	f := newFixture(t)
	f.poller.riskErr = fmt.Errorf("risk agent down")
	f.poller.marketErr = fmt.Errorf("analyst down")

	result := f.engine.RunCycle(context.Background())
	assert.Empty(t, f.portfolio.Trades(), "no trade without cached verdicts")
	assert.Len(t, result.Errors, 2)
}

func TestProfitGatePausesTrading(t *testing.T) {
	f := newFixture(t)
	f.portfolio.profit = portfolio.ProfitStatus{
		TargetReached:  true,
		DailyProfitPct: decimal.NewFromFloat(2.5),
		TargetPct:      decimal.NewFromFloat(2.0),
	}

	result := f.engine.RunCycle(context.Background())
	assert.Empty(t, f.portfolio.Trades(), "bullish + low risk, yet no trade while gated")
	assert.Contains(t, result.ActionsTaken, "trading paused — daily target met")

	// polls keep refreshing the cache while the gate is on
	f.poller.mu.Lock()
	assert.Equal(t, 1, f.poller.riskCalls)
	assert.Equal(t, 1, f.poller.marketCalls)
	f.poller.mu.Unlock()
	assert.Equal(t, 1, f.notifier.Count("profit target reached"))

	// the gate transition is announced once, not every cycle
	f.engine.RunCycle(context.Background())
	assert.Equal(t, 1, f.notifier.Count("profit target reached"))
	assert.Empty(t, f.portfolio.Trades())
}

func TestStatusUpdateSentWhenErrorsPileUp(t *testing.T) {
	f := newFixture(t)
	f.poller.riskErr = fmt.Errorf("risk agent down")
	f.poller.marketErr = fmt.Errorf("analyst down")

	f.engine.RunCycle(context.Background())
	assert.Equal(t, 1, f.notifier.Count("Orchestration Status"))
}

func TestOptimizerKickStartsMonitoringWhenIdle(t *testing.T) {
	f := newFixture(t)
	f.optimizer.health = optimizer.Health{IsOptimizing: false}

	result := f.engine.RunCycle(context.Background())
	assert.Contains(t, result.ActionsTaken, "Started optimizer monitoring")
	assert.Contains(t, result.AgentsActivated, RoleOptimizer)
	f.optimizer.mu.Lock()
	assert.Equal(t, 1, f.optimizer.started)
	f.optimizer.mu.Unlock()
}

func TestSetIntervalTakesEffect(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, time.Minute, f.engine.Interval())
	f.engine.SetInterval(90 * time.Second)
	assert.Equal(t, 90*time.Second, f.engine.Interval())
	assert.Equal(t, 90, f.engine.Status().IntervalSeconds)
}
