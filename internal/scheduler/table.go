package scheduler

import (
	"sync"
	"time"
)

// Table 是统一的 interval/last-run 记账：scheduler 的 agent 表和编排循环的
// role 表都用它，避免两套独立实现的时间簿记各自漂移。
type Table struct {
	mu      sync.Mutex
	nowFn   func() time.Time
	order   []string
	entries map[string]*tableEntry
}

type tableEntry struct {
	interval time.Duration
	lastRun  time.Time
}

func NewTable() *Table {
	return &Table{
		nowFn:   time.Now,
		entries: make(map[string]*tableEntry),
	}
}

// Register adds or updates an entry. Last-run bookkeeping survives interval
// updates (registry hot reload must not make everything due at once).
func (t *Table) Register(name string, interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[name]; ok {
		e.interval = interval
		return
	}
	t.entries[name] = &tableEntry{interval: interval}
	t.order = append(t.order, name)
}

// Due reports whether the entry's interval has elapsed since its last run.
// A never-run entry is immediately due. Unknown names are never due.
func (t *Table) Due(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		return false
	}
	if e.lastRun.IsZero() {
		return true
	}
	return t.nowFn().Sub(e.lastRun) >= e.interval
}

// MarkRun records an attempt. Called the instant a run starts, not when it
// completes.
func (t *Table) MarkRun(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[name]; ok {
		e.lastRun = t.nowFn()
	}
}

// SinceLastRun returns the elapsed time since the last attempt; ok is false
// for unknown or never-run entries.
func (t *Table) SinceLastRun(name string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok || e.lastRun.IsZero() {
		return 0, false
	}
	return t.nowFn().Sub(e.lastRun), true
}

// DueWithin lists entries that will become due within d (used by the
// periodic status report).
func (t *Table) DueWithin(d time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFn()
	var out []string
	for _, name := range t.order {
		e := t.entries[name]
		next := e.lastRun.Add(e.interval)
		if e.lastRun.IsZero() || !next.After(now.Add(d)) {
			out = append(out, name)
		}
	}
	return out
}

// TableEntryView 是状态接口暴露的只读条目。
type TableEntryView struct {
	IntervalSeconds int   `json:"interval"`
	LastRun         int64 `json:"last_run"`
	NextRun         int64 `json:"next_run"`
}

func (t *Table) Snapshot() map[string]TableEntryView {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TableEntryView, len(t.entries))
	for name, e := range t.entries {
		view := TableEntryView{IntervalSeconds: int(e.interval / time.Second)}
		if !e.lastRun.IsZero() {
			view.LastRun = e.lastRun.Unix()
			view.NextRun = e.lastRun.Add(e.interval).Unix()
		}
		out[name] = view
	}
	return out
}

// SetClock 供测试注入时钟。
func (t *Table) SetClock(nowFn func() time.Time) {
	if nowFn == nil {
		return
	}
	t.mu.Lock()
	t.nowFn = nowFn
	t.mu.Unlock()
}
