package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredMessageRender(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "🎛️",
		Title: "Orchestration Status",
		Sections: []MessageSection{
			{Title: "Cycle", Lines: []string{"Cycle #10 (0.42s)", "", "  Errors: none  "}},
			{Title: "Empty", Lines: []string{"", "   "}},
		},
		Footer:    "next cycle in 60s",
		Timestamp: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
	}

	out := msg.Render()
	assert.Contains(t, out, "*🎛️ Orchestration Status*")
	assert.Contains(t, out, "*Cycle*")
	assert.Contains(t, out, "• Cycle #10 (0.42s)")
	assert.Contains(t, out, "• Errors: none")
	assert.NotContains(t, out, "*Empty*", "sections with only blank lines are dropped")
	assert.Contains(t, out, "next cycle in 60s")
	assert.Contains(t, out, "2026-08-27 12:00:00")
}

func TestStructuredMessageRenderTruncates(t *testing.T) {
	long := make([]string, 200)
	for i := range long {
		long[i] = fmt.Sprintf("line %03d with some padding text to inflate the payload", i)
	}
	out := StructuredMessage{Title: "big", Sections: []MessageSection{{Lines: long}}}.Render()
	assert.LessOrEqual(t, len(out), maxStructuredMessageLen+3)
	assert.Contains(t, out[len(out)-3:], "...")
}

func TestSeverityEmojiFallsBackToInfo(t *testing.T) {
	assert.Equal(t, "🚨", SeverityCritical.Emoji())
	assert.Equal(t, "ℹ️", Severity("nonsense").Emoji())
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	err   error
	gate  chan struct{}
}

func (r *recordingSender) SendText(channel, text string) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.sent = append(r.sent, channel+"|"+text)
	r.mu.Unlock()
	return r.err
}

func (r *recordingSender) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestDispatcherDeliversWithSeverityPrefix(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Notify("#agents", SeveritySuccess, "done")
	require.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "#agents|✅ done", sender.Sent()[0])
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	sender := &recordingSender{gate: make(chan struct{})}
	d := NewDispatcher(sender, 2)

	// no Run goroutine draining: the queue fills after two messages
	d.Notify("#agents", SeverityInfo, "one")
	d.Notify("#agents", SeverityInfo, "two")
	d.Notify("#agents", SeverityInfo, "three")
	d.Notify("#agents", SeverityInfo, "four")

	assert.Equal(t, 2, d.Dropped())
}

func TestDispatcherNeverBlocksCaller(t *testing.T) {
	sender := &recordingSender{gate: make(chan struct{})}
	d := NewDispatcher(sender, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Notify("#agents", SeverityInfo, "spam")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
}

func TestNopNotifierIsSilent(t *testing.T) {
	Nop{}.Notify("#agents", SeverityInfo, "ignored")
}
