package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"maestro/internal/logger"
	"maestro/internal/notify"
)

// Loop drives the engine at its configured interval. The interval is
// re-read each iteration so runtime config updates apply without restart.
type Loop struct {
	engine   *Engine
	notifier notify.Notifier
	channel  string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewLoop(engine *Engine, notifier notify.Notifier, channel string) *Loop {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Loop{engine: engine, notifier: notifier, channel: channel}
}

func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	logger.Infof("orchestration engine started (interval=%s)", l.engine.Interval())
	l.notifier.Notify(l.channel, notify.SeverityStartup, "*Orchestration Engine* started")

	go l.run(loopCtx)
}

func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	logger.Infof("orchestration engine stopped")
	l.notifier.Notify(l.channel, notify.SeverityShutdown, "*Orchestration Engine* stopped")
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// RunOnce triggers a single cycle outside the loop cadence (manual admin
// trigger). It shares the engine's state with the loop, so a concurrent
// cycle sees the same caches and role table.
func (l *Loop) RunOnce(ctx context.Context) CycleResult {
	return l.engine.RunCycle(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		l.cycleSafe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.engine.Interval()):
		}
	}
}

// cycleSafe 执行一轮并吸收 panic；编排循环没有额外退避，错误在下一轮重试。
func (l *Loop) cycleSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic in orchestration cycle: %v", r)
			l.notifier.Notify(l.channel, notify.SeverityError, fmt.Sprintf("*Orchestration error*: %v", r))
		}
	}()
	l.engine.RunCycle(ctx)
}
