package config

import (
	"fmt"
	"strings"
)

// MinOrchestrationInterval / MaxOrchestrationInterval bound the cycle period,
// both at load time and for dynamic updates over the admin API.
const (
	MinOrchestrationInterval = 10
	MaxOrchestrationInterval = 3600
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Agents.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AgentsConfig) validate() error {
	if strings.TrimSpace(a.Path) == "" {
		return fmt.Errorf("agents.path cannot be empty")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.TickSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_seconds must be > 0")
	}
	if s.ErrorBackoffSeconds < s.TickSeconds {
		return fmt.Errorf("scheduler.error_backoff_seconds must be >= tick_seconds")
	}
	if s.CooldownSeconds < 0 {
		return fmt.Errorf("scheduler.cooldown_seconds must be >= 0")
	}
	if s.ErrorCooldownSeconds <= 0 {
		return fmt.Errorf("scheduler.error_cooldown_seconds must be > 0")
	}
	return nil
}

func (o *OrchestratorConfig) validate() error {
	if o.IntervalSeconds < MinOrchestrationInterval || o.IntervalSeconds > MaxOrchestrationInterval {
		return fmt.Errorf("orchestrator.interval_seconds must be within [%d, %d]",
			MinOrchestrationInterval, MaxOrchestrationInterval)
	}
	if strings.TrimSpace(o.Symbol) == "" {
		return fmt.Errorf("orchestrator.symbol cannot be empty")
	}
	for name, iv := range map[string]int{
		"risk_interval_seconds":      o.RiskIntervalSeconds,
		"analyst_interval_seconds":   o.AnalystIntervalSeconds,
		"executor_interval_seconds":  o.ExecutorIntervalSeconds,
		"optimizer_interval_seconds": o.OptimizerIntervalSeconds,
	} {
		if iv <= 0 {
			return fmt.Errorf("orchestrator.%s must be > 0", name)
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Slack.Enabled && strings.TrimSpace(n.Slack.WebhookURL) == "" {
		return fmt.Errorf("notify.slack.webhook_url is required when slack is enabled")
	}
	return nil
}
