package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"maestro/internal/gateway/analysis"
	"maestro/internal/logger"
	"maestro/internal/notify"
	"maestro/internal/registry"
	"maestro/internal/stats"

	"github.com/google/uuid"
)

// Runner executes one analysis run for an agent. The production runner is
// the analysis collaborator HTTP client.
type Runner interface {
	RunAnalysis(ctx context.Context, agent registry.Descriptor) (analysis.Verdict, error)
}

// RunRecord 是一次完成的运行，仅作遥测，丢失不影响正确性。
type RunRecord struct {
	TraceID   string
	Agent     string
	Timestamp time.Time
	Duration  time.Duration
	Success   bool
	Error     string
	Raw       json.RawMessage
}

// RunSink receives run records best-effort (sqlite telemetry in production).
type RunSink interface {
	AppendRun(rec RunRecord)
}

// RunOutcome 是 Trigger 的返回值。
type RunOutcome struct {
	TraceID string
	Agent   string
	Success bool
	Runtime time.Duration
	Err     string
}

// Params 组装一个 Scheduler。
type Params struct {
	Registry      *registry.Registry
	Runner        Runner
	Notifier      notify.Notifier
	Stats         *stats.RunStats
	Sink          RunSink
	Cooldown      time.Duration
	ErrorCooldown time.Duration
}

// Scheduler owns the per-agent state machines and the eligibility
// algorithm. One Scheduler, one writer: all mutation happens under mu from
// whichever single loop drives it.
type Scheduler struct {
	reg      *registry.Registry
	runner   Runner
	notifier notify.Notifier
	stats    *stats.RunStats
	sink     RunSink

	mu            sync.Mutex
	shared        *SharedState
	states        map[string]*runtimeState
	table         *Table
	errorCooldown time.Duration
	nowFn         func() time.Time
}

func New(p Params) *Scheduler {
	if p.ErrorCooldown <= 0 {
		p.ErrorCooldown = 5 * time.Minute
	}
	if p.Notifier == nil {
		p.Notifier = notify.Nop{}
	}
	s := &Scheduler{
		reg:           p.Registry,
		runner:        p.Runner,
		notifier:      p.Notifier,
		stats:         p.Stats,
		sink:          p.Sink,
		shared:        NewSharedState(p.Cooldown),
		states:        make(map[string]*runtimeState),
		table:         NewTable(),
		errorCooldown: p.ErrorCooldown,
		nowFn:         time.Now,
	}
	s.syncRegistry(p.Registry.Snapshot())
	p.Registry.OnChange(s.syncRegistry)
	return s
}

func (s *Scheduler) syncRegistry(snap registry.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range snap.Agents {
		s.table.Register(d.Name, d.Interval())
		if _, ok := s.states[d.Name]; !ok {
			s.states[d.Name] = &runtimeState{Status: StatusIdle}
		}
	}
}

func (s *Scheduler) stateFor(name string) *runtimeState {
	st, ok := s.states[name]
	if !ok {
		st = &runtimeState{Status: StatusIdle}
		s.states[name] = st
	}
	return st
}

// IsEligible reports whether the agent may run right now. Exiting the error
// cooldown resets the state to idle and clears the retry counter as a side
// effect.
func (s *Scheduler) IsEligible(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isEligibleLocked(name)
}

func (s *Scheduler) isEligibleLocked(name string) bool {
	agent, ok := s.reg.Lookup(name)
	if !ok {
		return false
	}
	now := s.nowFn()

	// (a) own interval not yet elapsed
	if !s.table.Due(name) {
		return false
	}

	// (b) error cooldown, with lazy recovery
	st := s.stateFor(name)
	if st.Status == StatusError {
		since, ran := s.table.SinceLastRun(name)
		if ran && since < s.errorCooldown {
			return false
		}
		st.Status = StatusIdle
		st.RetryCount = 0
	}

	// (c) mutual exclusion, only between two resource-intensive agents
	if agent.ResourceIntensive && s.shared.ActiveAgent != "" && s.shared.ActiveAgent != name {
		if active, found := s.reg.Lookup(s.shared.ActiveAgent); found && active.ResourceIntensive {
			logger.Debugf("agent %s waiting for %s to finish", name, s.shared.ActiveAgent)
			return false
		}
	}

	// (d) global spacing between any two runs
	if !s.shared.LastFinish.IsZero() && now.Sub(s.shared.LastFinish) < s.shared.Cooldown {
		logger.Debugf("agent %s waiting for global cooldown", name)
		return false
	}

	return true
}

// SelectNext returns the eligible agent with the lowest priority value.
// When priorities collide the agent listed first in the registry wins.
func (s *Scheduler) SelectNext() (registry.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best registry.Descriptor
	found := false
	for _, d := range s.reg.Agents() {
		if !s.isEligibleLocked(d.Name) {
			continue
		}
		if !found || d.Priority < best.Priority {
			best = d
			found = true
		}
	}
	return best, found
}

// Trigger runs the agent once against the analysis collaborator, with a
// hard timeout of the agent's max runtime. All state transitions (running,
// success, retry, permanent error) happen here.
func (s *Scheduler) Trigger(ctx context.Context, agent registry.Descriptor) RunOutcome {
	traceID := uuid.NewString()
	start := s.nowFn()

	s.mu.Lock()
	st := s.stateFor(agent.Name)
	st.Status = StatusRunning
	s.shared.ActiveAgent = agent.Name
	s.table.MarkRun(agent.Name)
	s.mu.Unlock()

	logger.Infof("starting %s analysis trace=%s", agent.Name, traceID)
	s.notifier.Notify(agent.NotifyChannel, notify.SeverityInfo,
		fmt.Sprintf("*%s* analysis started", titleize(agent.Name)))

	verdict, err := s.runner.RunAnalysis(ctx, agent)
	runtime := s.nowFn().Sub(start)

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("analysis timeout after %ds", agent.MaxRuntimeSeconds)
		}
		s.handleFailure(agent, traceID, start, runtime, msg)
		return RunOutcome{TraceID: traceID, Agent: agent.Name, Runtime: runtime, Err: msg}
	}

	s.mu.Lock()
	st.Status = StatusIdle
	st.RetryCount = 0
	s.shared.ActiveAgent = ""
	s.shared.LastFinish = s.nowFn()
	s.mu.Unlock()

	s.record(RunRecord{
		TraceID:   traceID,
		Agent:     agent.Name,
		Timestamp: start,
		Duration:  runtime,
		Success:   true,
		Raw:       verdict.Raw,
	})
	logger.Infof("%s analysis completed in %.1fs", agent.Name, runtime.Seconds())
	s.notifier.Notify(agent.NotifyChannel, notify.SeveritySuccess, successSummary(agent.Name, runtime, verdict))

	return RunOutcome{TraceID: traceID, Agent: agent.Name, Success: true, Runtime: runtime}
}

// handleFailure applies the retry/backoff rules: below the retry budget the
// agent goes back to idle and retries at its next interval; at the budget it
// is parked in ERROR until the error cooldown expires.
func (s *Scheduler) handleFailure(agent registry.Descriptor, traceID string, start time.Time, runtime time.Duration, errMsg string) {
	s.mu.Lock()
	st := s.stateFor(agent.Name)
	st.RetryCount++
	retries := st.RetryCount
	permanent := retries >= agent.MaxRetries
	if permanent {
		st.Status = StatusError
	} else {
		st.Status = StatusIdle
	}
	s.shared.ActiveAgent = ""
	s.shared.LastFinish = s.nowFn()
	s.mu.Unlock()

	s.record(RunRecord{
		TraceID:   traceID,
		Agent:     agent.Name,
		Timestamp: start,
		Duration:  runtime,
		Error:     errMsg,
	})

	if permanent {
		logger.Errorf("%s failed permanently after %d retries: %s", agent.Name, agent.MaxRetries, errMsg)
		s.notifier.Notify(agent.NotifyChannel, notify.SeverityCritical,
			fmt.Sprintf("*%s* failed permanently: %s", titleize(agent.Name), errMsg))
		return
	}
	logger.Warnf("%s failed (retry %d/%d): %s", agent.Name, retries, agent.MaxRetries, errMsg)
	s.notifier.Notify(agent.NotifyChannel, notify.SeverityWarning,
		fmt.Sprintf("*%s* failed (retry %d/%d): %s", titleize(agent.Name), retries, agent.MaxRetries, errMsg))
}

func (s *Scheduler) record(rec RunRecord) {
	if s.stats != nil {
		s.stats.Record(rec.Agent, rec.Duration, rec.Success)
	}
	if s.sink != nil {
		s.sink.AppendRun(rec)
	}
}

func successSummary(agent string, runtime time.Duration, v analysis.Verdict) string {
	switch agent {
	case "market_analyst":
		return fmt.Sprintf("*Market Analysis Complete* (%.1fs)\n📊 Sentiment: %s | 💡 Rec: %s | 📈 Conf: %.1f%%",
			runtime.Seconds(), orUnknown(v.Sentiment), orHold(v.Recommendation), v.Confidence*100)
	case "news_analyst":
		return fmt.Sprintf("*News Analysis Complete* (%.1fs)\n📰 Sentiment: %+.2f | ⚡ Impact: %s | 💡 Rec: %s",
			runtime.Seconds(), v.SentimentScore, orUnknown(v.ImpactLevel), orHold(v.Recommendation))
	default:
		return fmt.Sprintf("*%s* completed in %.1fs", titleize(agent), runtime.Seconds())
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "UNKNOWN"
	}
	return s
}

func orHold(s string) string {
	if strings.TrimSpace(s) == "" {
		return "HOLD"
	}
	return s
}

func titleize(name string) string {
	parts := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// AgentView 是状态接口里单个 agent 的只读视图。
type AgentView struct {
	Status            AgentStatus `json:"status"`
	LastRun           int64       `json:"last_run"`
	NextRun           int64       `json:"next_run"`
	Priority          int         `json:"priority"`
	ResourceIntensive bool        `json:"resource_intensive"`
	RetryCount        int         `json:"retry_count"`
	MaxRetries        int         `json:"max_retries"`
	NotifyChannel     string      `json:"notify_channel"`
}

// StatusSnapshot 汇总调度器当前状态与性能统计。
type StatusSnapshot struct {
	ActiveAgent              string               `json:"active_agent"`
	CooldownRemainingSeconds float64              `json:"cooldown_remaining_seconds"`
	Agents                   map[string]AgentView `json:"agents"`
	Performance              stats.Summary        `json:"performance_stats"`
}

func (s *Scheduler) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	remaining := 0.0
	if !s.shared.LastFinish.IsZero() {
		if d := s.shared.Cooldown - now.Sub(s.shared.LastFinish); d > 0 {
			remaining = d.Seconds()
		}
	}
	table := s.table.Snapshot()
	agents := make(map[string]AgentView)
	for _, d := range s.reg.Agents() {
		st := s.stateFor(d.Name)
		view := AgentView{
			Status:            st.Status,
			Priority:          d.Priority,
			ResourceIntensive: d.ResourceIntensive,
			RetryCount:        st.RetryCount,
			MaxRetries:        d.MaxRetries,
			NotifyChannel:     d.NotifyChannel,
		}
		if entry, ok := table[d.Name]; ok {
			view.LastRun = entry.LastRun
			view.NextRun = entry.NextRun
		}
		agents[d.Name] = view
	}

	snap := StatusSnapshot{
		ActiveAgent:              s.shared.ActiveAgent,
		CooldownRemainingSeconds: remaining,
		Agents:                   agents,
	}
	if s.stats != nil {
		snap.Performance = s.stats.Summary()
	}
	return snap
}

// SetClock 供测试注入时钟（同时作用于内部 Table）。
func (s *Scheduler) SetClock(nowFn func() time.Time) {
	if nowFn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = nowFn
	s.mu.Unlock()
	s.table.SetClock(nowFn)
}
