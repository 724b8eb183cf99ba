package notify

import (
	"context"
	"sync"
	"time"

	"maestro/internal/logger"
	"maestro/internal/pkg/circuit"
)

// Sender is the blocking transport behind the dispatcher (Slack in
// production, a recorder in tests).
type Sender interface {
	SendText(channel, text string) error
}

type queued struct {
	channel  string
	severity Severity
	text     string
}

// Dispatcher 把通知放进有界队列异步发送：队列满则丢弃，下游持续失败时由
// 熔断器短路。调度决策永远不会被通知路径拖慢或打断。
type Dispatcher struct {
	sender  Sender
	breaker *circuit.Breaker
	queue   chan queued

	startOnce sync.Once
	dropped   int
	mu        sync.Mutex
}

func NewDispatcher(sender Sender, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		sender:  sender,
		breaker: circuit.NewBreaker("notify", 5, 2*time.Minute),
		queue:   make(chan queued, queueSize),
	}
}

// Notify implements Notifier. It never blocks: when the queue is full the
// message is dropped and counted.
func (d *Dispatcher) Notify(channel string, severity Severity, text string) {
	msg := queued{channel: channel, severity: severity, text: text}
	select {
	case d.queue <- msg:
	default:
		d.mu.Lock()
		d.dropped++
		n := d.dropped
		d.mu.Unlock()
		logger.Warnf("notify queue full, dropping message (total dropped=%d)", n)
	}
}

// Run drains the queue until ctx is done. Start it once from the app.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-d.queue:
			d.deliver(msg)
		}
	}
}

func (d *Dispatcher) deliver(msg queued) {
	if !d.breaker.Allow() {
		logger.Debugf("notify breaker open, dropping %s message for %s", msg.severity, msg.channel)
		return
	}
	text := msg.severity.Emoji() + " " + msg.text
	if err := d.sender.SendText(msg.channel, text); err != nil {
		d.breaker.RecordFailure()
		logger.Warnf("notify send failed (channel=%s): %v", msg.channel, err)
		return
	}
	d.breaker.RecordSuccess()
}

// Dropped reports how many messages were discarded due to a full queue.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
