package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableDueAndMarkRun(t *testing.T) {
	clk := newFakeClock()
	table := NewTable()
	table.SetClock(clk.Now)
	table.Register("risk", 120*time.Second)

	assert.True(t, table.Due("risk"), "never-run entries are immediately due")
	assert.False(t, table.Due("unknown"))

	table.MarkRun("risk")
	assert.False(t, table.Due("risk"))

	clk.Advance(119 * time.Second)
	assert.False(t, table.Due("risk"))
	clk.Advance(1 * time.Second)
	assert.True(t, table.Due("risk"))
}

func TestTableRegisterKeepsLastRunOnUpdate(t *testing.T) {
	clk := newFakeClock()
	table := NewTable()
	table.SetClock(clk.Now)
	table.Register("risk", 120*time.Second)
	table.MarkRun("risk")

	// hot reload shrinks the interval; the last-run timestamp must survive
	table.Register("risk", 60*time.Second)
	clk.Advance(59 * time.Second)
	assert.False(t, table.Due("risk"))
	clk.Advance(1 * time.Second)
	assert.True(t, table.Due("risk"))
}

func TestTableSinceLastRun(t *testing.T) {
	clk := newFakeClock()
	table := NewTable()
	table.SetClock(clk.Now)
	table.Register("risk", 120*time.Second)

	_, ok := table.SinceLastRun("risk")
	assert.False(t, ok)

	table.MarkRun("risk")
	clk.Advance(45 * time.Second)
	since, ok := table.SinceLastRun("risk")
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, since)
}

func TestTableSnapshot(t *testing.T) {
	clk := newFakeClock()
	table := NewTable()
	table.SetClock(clk.Now)
	table.Register("risk", 120*time.Second)
	table.MarkRun("risk")

	snap := table.Snapshot()
	entry, ok := snap["risk"]
	require.True(t, ok)
	assert.Equal(t, 120, entry.IntervalSeconds)
	assert.Equal(t, clk.Now().Unix(), entry.LastRun)
	assert.Equal(t, clk.Now().Add(120*time.Second).Unix(), entry.NextRun)
}
