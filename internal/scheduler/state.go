package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// AgentStatus is the closed set of per-agent lifecycle states. Unknown
// values are rejected at parse time instead of flowing through as strings.
type AgentStatus int

const (
	StatusIdle AgentStatus = iota
	StatusRunning
	StatusError
	StatusCooldown
)

func (s AgentStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	case StatusCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

func (s AgentStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// ParseAgentStatus maps a textual status to the enum, rejecting anything
// outside the closed set.
func ParseAgentStatus(raw string) (AgentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "idle":
		return StatusIdle, nil
	case "running":
		return StatusRunning, nil
	case "error":
		return StatusError, nil
	case "cooldown":
		return StatusCooldown, nil
	default:
		return StatusIdle, fmt.Errorf("unknown agent status: %q", raw)
	}
}

// runtimeState 是单个 agent 的可变运行状态，仅由 Scheduler 持有。
type runtimeState struct {
	Status     AgentStatus
	RetryCount int
}

// SharedState 是跨 agent 的调度状态。显式传引用、单写者，不做进程级单例，
// 多个 Scheduler 实例（测试场景）互不串扰。
type SharedState struct {
	ActiveAgent string
	LastFinish  time.Time
	Cooldown    time.Duration
}

func NewSharedState(cooldown time.Duration) *SharedState {
	return &SharedState{Cooldown: cooldown}
}
