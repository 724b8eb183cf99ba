package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9990"

	defaultAgentsPath = "configs/agents.yaml"

	defaultSchedulerTick          = 10
	defaultSchedulerErrorBackoff  = 30
	defaultSchedulerCooldown      = 30
	defaultSchedulerErrorCooldown = 300

	defaultOrchestratorInterval    = 60
	defaultOrchestratorSymbol      = "BTCUSDC"
	defaultOrchestratorStatusEvery = 10
	defaultRoleRiskInterval        = 120
	defaultRoleAnalystInterval     = 300
	defaultRoleExecutorInterval    = 30
	defaultRoleOptimizerInterval   = 3600

	defaultCollaboratorTimeout = 10

	defaultSlackChannel   = "agents"
	defaultSlackQueueSize = 64
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Agents.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Orchestrator.applyDefaults(keys)
	c.Collaborators.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (a *AgentsConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("agents.path", &a.Path, defaultAgentsPath),
		boolFieldDefault("agents.hot_reload", &a.HotReload, true),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("scheduler.tick_seconds", &s.TickSeconds, defaultSchedulerTick),
		intFieldDefault("scheduler.error_backoff_seconds", &s.ErrorBackoffSeconds, defaultSchedulerErrorBackoff),
		intFieldDefault("scheduler.cooldown_seconds", &s.CooldownSeconds, defaultSchedulerCooldown),
		intFieldDefault("scheduler.error_cooldown_seconds", &s.ErrorCooldownSeconds, defaultSchedulerErrorCooldown),
		boolFieldDefault("scheduler.auto_start", &s.AutoStart, true),
	)
}

func (o *OrchestratorConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("orchestrator.interval_seconds", &o.IntervalSeconds, defaultOrchestratorInterval),
		stringFieldDefault("orchestrator.symbol", &o.Symbol, defaultOrchestratorSymbol),
		boolFieldDefault("orchestrator.auto_start", &o.AutoStart, true),
		intFieldDefault("orchestrator.status_every_cycles", &o.StatusEveryCycles, defaultOrchestratorStatusEvery),
		intFieldDefault("orchestrator.risk_interval_seconds", &o.RiskIntervalSeconds, defaultRoleRiskInterval),
		intFieldDefault("orchestrator.analyst_interval_seconds", &o.AnalystIntervalSeconds, defaultRoleAnalystInterval),
		intFieldDefault("orchestrator.executor_interval_seconds", &o.ExecutorIntervalSeconds, defaultRoleExecutorInterval),
		intFieldDefault("orchestrator.optimizer_interval_seconds", &o.OptimizerIntervalSeconds, defaultRoleOptimizerInterval),
	)
}

func (c *CollaboratorsConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("collaborators.timeout_seconds", &c.TimeoutSeconds, defaultCollaboratorTimeout),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("notify.slack.default_channel", &n.Slack.DefaultChannel, defaultSlackChannel),
		intFieldDefault("notify.slack.queue_size", &n.Slack.QueueSize, defaultSlackQueueSize),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
