package notify

// Severity classifies a notification; it maps to an emoji prefix on the wire.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
	SeverityStartup  Severity = "startup"
	SeverityShutdown Severity = "shutdown"
)

var severityEmoji = map[Severity]string{
	SeverityInfo:     "ℹ️",
	SeveritySuccess:  "✅",
	SeverityWarning:  "⚠️",
	SeverityError:    "❌",
	SeverityCritical: "🚨",
	SeverityStartup:  "🚀",
	SeverityShutdown: "⏹️",
}

func (s Severity) Emoji() string {
	if e, ok := severityEmoji[s]; ok {
		return e
	}
	return severityEmoji[SeverityInfo]
}

// Notifier 是核心依赖的唯一通知入口：fire-and-forget，绝不阻塞调用方，
// 发送失败只在本地记录。
type Notifier interface {
	Notify(channel string, severity Severity, text string)
}

// Nop discards every notification (used when Slack is disabled and in tests).
type Nop struct{}

func (Nop) Notify(string, Severity, string) {}
