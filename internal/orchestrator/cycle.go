package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"maestro/internal/gateway/portfolio"
	"maestro/internal/logger"
	"maestro/internal/notify"

	"github.com/google/uuid"
)

// RunCycle executes one orchestration decision cycle. Each role polls on
// its own cadence; the trade decision only fires when the executor role is
// due AND both a risk verdict and a market verdict have been cached.
func (e *Engine) RunCycle(ctx context.Context) CycleResult {
	traceID := uuid.NewString()
	start := e.now()

	result := CycleResult{
		TraceID:         traceID,
		AgentsActivated: []string{},
		ActionsTaken:    []string{},
		Errors:          []string{},
	}

	// The profit gate suppresses trade emission only; risk and sentiment
	// polls keep refreshing the cache and the optimizer keeps its cadence.
	gated := e.checkProfitGate(ctx, &result)
	e.pollRisk(ctx, &result)
	e.pollMarket(ctx, &result)
	if gated {
		result.ActionsTaken = append(result.ActionsTaken, "trading paused — daily target met")
	} else {
		e.decideTrade(ctx, &result)
	}
	e.kickOptimizer(ctx, &result)
	e.setActiveRole("")

	e.mu.Lock()
	e.cycleCount++
	result.CycleNumber = e.cycleCount
	result.DurationSeconds = e.nowLocked().Sub(start).Seconds()
	e.lastResult = result
	statusDue := e.cycleCount%e.statusEvery == 0
	e.mu.Unlock()

	if statusDue || len(result.ActionsTaken) > 0 || len(result.Errors) > 1 {
		e.sendStatusUpdate(ctx, result)
	}

	if e.sink != nil {
		e.sink.AppendCycle(CycleRecord{
			TraceID:         traceID,
			CycleNumber:     result.CycleNumber,
			Timestamp:       start,
			Duration:        e.now().Sub(start),
			AgentsActivated: result.AgentsActivated,
			ActionsTaken:    result.ActionsTaken,
			Errors:          result.Errors,
		})
	}

	logger.Infof("orchestration cycle %d done in %.2fs (activated=%d actions=%d errors=%d)",
		result.CycleNumber, result.DurationSeconds,
		len(result.AgentsActivated), len(result.ActionsTaken), len(result.Errors))
	return result
}

// checkProfitGate polls the daily profit status. While the target is
// reached trade emission is suspended; the gate transition is notified
// once per direction rather than every cycle.
func (e *Engine) checkProfitGate(ctx context.Context, result *CycleResult) bool {
	status, err := e.portfolio.DailyProfitStatus(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("daily-profit-status: %v", err))
		logger.Warnf("daily profit status unavailable: %v", err)
		return false
	}
	result.ProfitStatus = status

	e.mu.Lock()
	wasOn := e.profitGateOn
	e.profitGateOn = status.TargetReached
	e.mu.Unlock()

	if status.TargetReached && !wasOn {
		logger.Infof("daily profit target reached (%s%%), pausing trading roles", status.DailyProfitPct)
		e.notifier.Notify(e.statusChannel, notify.SeverityWarning,
			fmt.Sprintf("*Daily profit target reached* (%s%% ≥ %s%%) — trading paused until reset",
				status.DailyProfitPct, status.TargetPct))
	}
	if !status.TargetReached && wasOn {
		logger.Infof("daily profit gate cleared, trading roles resumed")
		e.notifier.Notify(e.statusChannel, notify.SeverityInfo, "*Daily profit gate cleared* — trading resumed")
	}
	return status.TargetReached
}

// pollRisk refreshes the risk verdict on the role's cadence. The role is
// marked as run only on success, so a failed poll stays due and retries on
// the next cycle.
func (e *Engine) pollRisk(ctx context.Context, result *CycleResult) {
	if !e.roles.Due(RoleRiskManager) {
		return
	}
	endpoint, ok := e.endpointFor(RoleRiskManager)
	if !ok {
		return
	}
	e.setActiveRole(RoleRiskManager)

	verdict, err := e.analysis.RiskAssessment(ctx, endpoint)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("risk assessment: %v", err))
		logger.Warnf("risk assessment poll failed: %v", err)
		return
	}
	e.roles.MarkRun(RoleRiskManager)
	e.cache.SetRisk(verdict, e.now())
	result.AgentsActivated = append(result.AgentsActivated, RoleRiskManager)
	logger.Infof("risk assessment updated: level=%s", verdict.RiskLevel)
}

func (e *Engine) pollMarket(ctx context.Context, result *CycleResult) {
	if !e.roles.Due(RoleMarketAnalyst) {
		return
	}
	endpoint, ok := e.endpointFor(RoleMarketAnalyst)
	if !ok {
		return
	}
	e.setActiveRole(RoleMarketAnalyst)

	verdict, err := e.analysis.MarketAnalysis(ctx, endpoint)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("market analysis: %v", err))
		logger.Warnf("market analysis poll failed: %v", err)
		return
	}
	e.roles.MarkRun(RoleMarketAnalyst)
	e.cache.SetMarket(verdict, e.now())
	result.AgentsActivated = append(result.AgentsActivated, RoleMarketAnalyst)
	logger.Infof("market analysis updated: sentiment=%s recommendation=%s", verdict.Sentiment, verdict.Recommendation)
}

// decideTrade makes the trading decision when the executor role is due and
// both verdicts are cached. HIGH or CRITICAL risk vetoes the trade outright;
// otherwise a BULLISH market sentiment buys and anything else holds.
func (e *Engine) decideTrade(ctx context.Context, result *CycleResult) {
	if !e.roles.Due(RoleTradeExecutor) {
		return
	}
	risk, haveRisk := e.cache.Risk()
	market, haveMarket := e.cache.Market()
	if !haveRisk || !haveMarket {
		logger.Debugf("trade decision skipped: waiting for risk and market verdicts")
		return
	}
	e.roles.MarkRun(RoleTradeExecutor)
	e.setActiveRole(RoleTradeExecutor)
	result.AgentsActivated = append(result.AgentsActivated, RoleTradeExecutor)

	if risk.RiskLevel == "HIGH" || risk.RiskLevel == "CRITICAL" {
		logger.Warnf("trade vetoed: risk level %s", risk.RiskLevel)
		return
	}

	side := "HOLD"
	if market.Sentiment == "BULLISH" {
		side = "BUY"
	}
	if side != "BUY" {
		logger.Infof("trade decision: HOLD (sentiment=%s)", market.Sentiment)
		return
	}

	trade, err := e.portfolio.ExecuteTrade(ctx, portfolio.TradeRequest{
		Symbol:         e.symbol,
		Side:           side,
		Source:         "orchestration_engine",
		RiskAssessment: risk.Raw,
		MarketAnalysis: market.Raw,
	})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("execute trade: %v", err))
		logger.Errorf("trade execution failed: %v", err)
		return
	}
	if !trade.Executed() {
		result.Errors = append(result.Errors, fmt.Sprintf("trade execution failed: %s", trade.Error))
		logger.Warnf("trade not executed: status=%s error=%s", trade.Status, trade.Error)
		return
	}
	result.ActionsTaken = append(result.ActionsTaken, fmt.Sprintf("Executed BUY trade for %s", e.symbol))
	e.notifier.Notify(e.statusChannel, notify.SeveritySuccess,
		fmt.Sprintf("*Trade executed*: BUY %s (risk=%s, sentiment=%s)", e.symbol, risk.RiskLevel, market.Sentiment))
}

// kickOptimizer checks optimizer health on its cadence and starts the
// monitoring job when it is idle.
func (e *Engine) kickOptimizer(ctx context.Context, result *CycleResult) {
	if !e.roles.Due(RoleOptimizer) {
		return
	}
	e.setActiveRole(RoleOptimizer)

	health, err := e.optimizer.Health(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("optimizer health: %v", err))
		logger.Warnf("optimizer health check failed: %v", err)
		return
	}
	e.roles.MarkRun(RoleOptimizer)
	e.cache.SetOptimizing(health.IsOptimizing, e.now())
	if health.IsOptimizing {
		logger.Debugf("optimizer already monitoring, nothing to do")
		return
	}
	if err := e.optimizer.StartMonitoring(ctx); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("start optimizer: %v", err))
		logger.Warnf("optimizer start-monitoring failed: %v", err)
		return
	}
	e.cache.SetOptimizing(true, e.now())
	result.AgentsActivated = append(result.AgentsActivated, RoleOptimizer)
	result.ActionsTaken = append(result.ActionsTaken, "Started optimizer monitoring")
	logger.Infof("optimizer monitoring started")
}

// sendStatusUpdate pushes the periodic structured status report, enriched
// with a best-effort portfolio snapshot.
func (e *Engine) sendStatusUpdate(ctx context.Context, result CycleResult) {
	sections := []notify.MessageSection{
		{
			Title: "Cycle",
			Lines: []string{
				fmt.Sprintf("Cycle #%d (%.2fs)", result.CycleNumber, result.DurationSeconds),
				fmt.Sprintf("Agents activated: %s", joinOrNone(result.AgentsActivated)),
				fmt.Sprintf("Actions: %s", joinOrNone(result.ActionsTaken)),
				fmt.Sprintf("Errors: %s", joinOrNone(result.Errors)),
			},
		},
		{
			Title: "Daily Profit",
			Lines: []string{
				fmt.Sprintf("Profit: %s (%s%%) / target %s%%",
					result.ProfitStatus.DailyProfit, result.ProfitStatus.DailyProfitPct, result.ProfitStatus.TargetPct),
				fmt.Sprintf("Target reached: %t", result.ProfitStatus.TargetReached),
			},
		},
	}

	if risk, ok := e.cache.Risk(); ok {
		lines := []string{fmt.Sprintf("Risk level: %s", risk.RiskLevel)}
		if market, ok := e.cache.Market(); ok {
			lines = append(lines,
				fmt.Sprintf("Sentiment: %s (conf %.1f%%)", market.Sentiment, market.Confidence*100),
				fmt.Sprintf("Recommendation: %s", market.Recommendation))
		}
		sections = append(sections, notify.MessageSection{Title: "Market", Lines: lines})
	}

	if snap, err := e.portfolio.Portfolio(ctx); err == nil {
		sections = append(sections, notify.MessageSection{
			Title: "Portfolio",
			Lines: []string{
				fmt.Sprintf("Total value: %s USDC", snap.TotalValue),
				fmt.Sprintf("BTC: %s @ %s", snap.BTCBalance, snap.BTCPrice),
				fmt.Sprintf("USDC: %s", snap.USDCBalance),
			},
		})
	} else {
		logger.Debugf("portfolio snapshot unavailable for status update: %v", err)
	}

	msg := notify.StructuredMessage{
		Icon:      "🎛️",
		Title:     "Orchestration Status",
		Sections:  sections,
		Timestamp: e.now(),
	}
	e.notifier.Notify(e.statusChannel, notify.SeverityInfo, msg.Render())
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func (e *Engine) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nowFn()
}

func (e *Engine) nowLocked() time.Time {
	return e.nowFn()
}
