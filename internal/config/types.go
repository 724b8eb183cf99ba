package config

import "strings"

// Config 是 maestro 的主配置载体。
type Config struct {
	App           AppConfig           `toml:"app"`
	Agents        AgentsConfig        `toml:"agents"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Orchestrator  OrchestratorConfig  `toml:"orchestrator"`
	Collaborators CollaboratorsConfig `toml:"collaborators"`
	Notify        NotifyConfig        `toml:"notify"`
	Store         StoreConfig         `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// AgentsConfig 指向 agent 注册表文件（YAML），可选热加载。
type AgentsConfig struct {
	Path      string `toml:"path"`
	HotReload bool   `toml:"hot_reload"`
}

type SchedulerConfig struct {
	TickSeconds          int  `toml:"tick_seconds"`
	ErrorBackoffSeconds  int  `toml:"error_backoff_seconds"`
	CooldownSeconds      int  `toml:"cooldown_seconds"`
	ErrorCooldownSeconds int  `toml:"error_cooldown_seconds"`
	AutoStart            bool `toml:"auto_start"`
}

type OrchestratorConfig struct {
	IntervalSeconds          int    `toml:"interval_seconds"`
	Symbol                   string `toml:"symbol"`
	AutoStart                bool   `toml:"auto_start"`
	StatusEveryCycles        int    `toml:"status_every_cycles"`
	RiskIntervalSeconds      int    `toml:"risk_interval_seconds"`
	AnalystIntervalSeconds   int    `toml:"analyst_interval_seconds"`
	ExecutorIntervalSeconds  int    `toml:"executor_interval_seconds"`
	OptimizerIntervalSeconds int    `toml:"optimizer_interval_seconds"`
}

// CollaboratorsConfig 描述编排循环直接依赖的下游服务地址。
// Analysis collaborator 的地址按 agent 配置在注册表里。
type CollaboratorsConfig struct {
	PortfolioURL   string `toml:"portfolio_url"`
	OptimizerURL   string `toml:"optimizer_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type NotifyConfig struct {
	Slack SlackConfig `toml:"slack"`
}

type SlackConfig struct {
	Enabled        bool   `toml:"enabled"`
	WebhookURL     string `toml:"webhook_url"`
	DefaultChannel string `toml:"default_channel"`
	QueueSize      int    `toml:"queue_size"`
}

// StoreConfig 控制遥测落盘，路径为空表示关闭。
type StoreConfig struct {
	RunLogPath string `toml:"runlog_path"`
	AuditPath  string `toml:"audit_path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
