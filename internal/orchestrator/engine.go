package orchestrator

import (
	"context"
	"sync"
	"time"

	"maestro/internal/gateway/analysis"
	"maestro/internal/gateway/optimizer"
	"maestro/internal/gateway/portfolio"
	"maestro/internal/notify"
	"maestro/internal/registry"
	"maestro/internal/scheduler"
)

// Role 名即 registry 中的 agent 名，编排循环按角色各自的节奏轮询。
const (
	RoleRiskManager   = "risk_manager"
	RoleMarketAnalyst = "market_analyst"
	RoleTradeExecutor = "trade_executor"
	RoleOptimizer     = "parameter_optimizer"
)

// AnalysisPoller polls collaborator analysis endpoints (risk, market).
type AnalysisPoller interface {
	RiskAssessment(ctx context.Context, endpoint string) (analysis.Verdict, error)
	MarketAnalysis(ctx context.Context, endpoint string) (analysis.Verdict, error)
}

// PortfolioGateway covers the portfolio collaborator calls the cycle makes.
type PortfolioGateway interface {
	DailyProfitStatus(ctx context.Context) (portfolio.ProfitStatus, error)
	Portfolio(ctx context.Context) (portfolio.Snapshot, error)
	ExecuteTrade(ctx context.Context, req portfolio.TradeRequest) (portfolio.TradeResult, error)
}

// OptimizerGateway covers the optimizer collaborator calls.
type OptimizerGateway interface {
	Health(ctx context.Context) (optimizer.Health, error)
	StartMonitoring(ctx context.Context) error
}

// CycleRecord 是一轮编排的遥测记录。
type CycleRecord struct {
	TraceID         string
	CycleNumber     int
	Timestamp       time.Time
	Duration        time.Duration
	AgentsActivated []string
	ActionsTaken    []string
	Errors          []string
}

// CycleSink receives cycle records best-effort.
type CycleSink interface {
	AppendCycle(rec CycleRecord)
}

// CycleResult 是 RunCycle 的返回值，也通过手动触发接口暴露。
type CycleResult struct {
	TraceID         string                 `json:"trace_id"`
	CycleNumber     int                    `json:"cycle_number"`
	AgentsActivated []string               `json:"agents_activated"`
	ActionsTaken    []string               `json:"actions_taken"`
	Errors          []string               `json:"errors"`
	ProfitStatus    portfolio.ProfitStatus `json:"daily_profit_status"`
	DurationSeconds float64                `json:"duration_seconds"`
}

// RoleIntervals 配置各 role 的轮询间隔。
type RoleIntervals struct {
	RiskManager   time.Duration
	MarketAnalyst time.Duration
	TradeExecutor time.Duration
	Optimizer     time.Duration
}

// EngineParams 组装编排引擎。
type EngineParams struct {
	Registry  *registry.Registry
	Analysis  AnalysisPoller
	Portfolio PortfolioGateway
	Optimizer OptimizerGateway
	Notifier  notify.Notifier
	Sink      CycleSink

	Symbol           string
	Interval         time.Duration
	StatusEveryCycle int
	StatusChannel    string
	Roles            RoleIntervals
}

// Engine runs the orchestration decision cycle: it polls collaborator
// services per role on their own cadence, caches the verdicts, and makes
// the trade decision when the executor role comes due. Role bookkeeping
// shares the same interval table the agent scheduler uses.
type Engine struct {
	reg       *registry.Registry
	analysis  AnalysisPoller
	portfolio PortfolioGateway
	optimizer OptimizerGateway
	notifier  notify.Notifier
	sink      CycleSink

	symbol        string
	statusEvery   int
	statusChannel string
	roles         *scheduler.Table
	cache         *ResultCache

	mu           sync.Mutex
	interval     time.Duration
	cycleCount   int
	activeRole   string
	lastResult   CycleResult
	profitGateOn bool
	nowFn        func() time.Time
}

func NewEngine(p EngineParams) *Engine {
	if p.Interval <= 0 {
		p.Interval = time.Minute
	}
	if p.StatusEveryCycle <= 0 {
		p.StatusEveryCycle = 10
	}
	if p.Symbol == "" {
		p.Symbol = "BTCUSDC"
	}
	if p.Notifier == nil {
		p.Notifier = notify.Nop{}
	}
	e := &Engine{
		reg:           p.Registry,
		analysis:      p.Analysis,
		portfolio:     p.Portfolio,
		optimizer:     p.Optimizer,
		notifier:      p.Notifier,
		sink:          p.Sink,
		symbol:        p.Symbol,
		statusEvery:   p.StatusEveryCycle,
		statusChannel: p.StatusChannel,
		roles:         scheduler.NewTable(),
		cache:         NewResultCache(),
		interval:      p.Interval,
		nowFn:         time.Now,
	}
	e.roles.Register(RoleRiskManager, orDefault(p.Roles.RiskManager, 2*time.Minute))
	e.roles.Register(RoleMarketAnalyst, orDefault(p.Roles.MarketAnalyst, 5*time.Minute))
	e.roles.Register(RoleTradeExecutor, orDefault(p.Roles.TradeExecutor, 30*time.Second))
	e.roles.Register(RoleOptimizer, orDefault(p.Roles.Optimizer, time.Hour))
	return e
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Interval returns the current cycle interval; the loop re-reads it every
// iteration so runtime updates take effect on the next cycle.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// SetInterval updates the cycle interval at runtime. Range validation is
// the caller's job (the admin API validates against the config bounds).
func (e *Engine) SetInterval(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interval = d
}

// endpointFor resolves a role's collaborator endpoint from the registry.
func (e *Engine) endpointFor(role string) (string, bool) {
	d, ok := e.reg.Lookup(role)
	if !ok {
		return "", false
	}
	return d.Endpoint, true
}

// EngineStatus 是状态接口暴露的引擎快照。
type EngineStatus struct {
	CycleCount      int                                 `json:"cycle_count"`
	IntervalSeconds int                                 `json:"interval_seconds"`
	ActiveRole      string                              `json:"active_role"`
	ProfitGate      bool                                `json:"profit_gate"`
	Roles           map[string]scheduler.TableEntryView `json:"roles"`
	Cache           CacheView                           `json:"cache"`
	LastCycle       CycleResult                         `json:"last_cycle"`
}

func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStatus{
		CycleCount:      e.cycleCount,
		IntervalSeconds: int(e.interval / time.Second),
		ActiveRole:      e.activeRole,
		ProfitGate:      e.profitGateOn,
		Roles:           e.roles.Snapshot(),
		Cache:           e.cache.View(),
		LastCycle:       e.lastResult,
	}
}

func (e *Engine) setActiveRole(role string) {
	e.mu.Lock()
	e.activeRole = role
	e.mu.Unlock()
}

// SetClock 供测试注入时钟（同时作用于 role 表）。
func (e *Engine) SetClock(nowFn func() time.Time) {
	if nowFn == nil {
		return
	}
	e.mu.Lock()
	e.nowFn = nowFn
	e.mu.Unlock()
	e.roles.SetClock(nowFn)
}
