package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"maestro/internal/logger"
	"maestro/internal/notify"
)

// LoopParams 配置调度主循环。
type LoopParams struct {
	Scheduler     *Scheduler
	Notifier      notify.Notifier
	Tick          time.Duration
	ErrorBackoff  time.Duration
	StatusChannel string
}

// Loop drives the scheduler: every tick it picks the best eligible agent
// and triggers it. A panicking tick is reported and followed by an extended
// backoff instead of killing the process.
type Loop struct {
	sched        *Scheduler
	notifier     notify.Notifier
	tick         time.Duration
	errorBackoff time.Duration
	channel      string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewLoop(p LoopParams) *Loop {
	if p.Tick <= 0 {
		p.Tick = 10 * time.Second
	}
	if p.ErrorBackoff <= 0 {
		p.ErrorBackoff = 30 * time.Second
	}
	if p.Notifier == nil {
		p.Notifier = notify.Nop{}
	}
	return &Loop{
		sched:        p.Scheduler,
		notifier:     p.Notifier,
		tick:         p.Tick,
		errorBackoff: p.ErrorBackoff,
		channel:      p.StatusChannel,
	}
}

// Start launches the loop goroutine. Starting a running loop is a no-op.
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

	logger.Infof("agent scheduler started (tick=%s)", l.tick)
	l.notifier.Notify(l.channel, notify.SeverityStartup, "*Agent Scheduler* started")

	go l.run(loopCtx)
}

// Stop cancels the loop and waits for the current tick to finish.
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

	logger.Infof("agent scheduler stopped")
	l.notifier.Notify(l.channel, notify.SeverityShutdown, "*Agent Scheduler* stopped")
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		backoff := l.tick
		if err := l.tickOnce(ctx); err != nil {
			logger.Errorf("scheduler tick failed: %v", err)
			l.notifier.Notify(l.channel, notify.SeverityError, fmt.Sprintf("*Scheduler error*: %v", err))
			backoff = l.errorBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// tickOnce 执行一轮调度，panic 转为 error 交给外层退避。
func (l *Loop) tickOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scheduler tick: %v", r)
		}
	}()

	agent, ok := l.sched.SelectNext()
	if !ok {
		return nil
	}
	l.sched.Trigger(ctx, agent)
	return nil
}
