package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"maestro/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Descriptor 是单个 agent 的静态配置，加载后不再修改。
type Descriptor struct {
	Name              string `mapstructure:"name" yaml:"name"`
	Endpoint          string `mapstructure:"endpoint" yaml:"endpoint"`
	IntervalSeconds   int    `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	Priority          int    `mapstructure:"priority" yaml:"priority"`
	ResourceIntensive bool   `mapstructure:"resource_intensive" yaml:"resource_intensive"`
	MaxRuntimeSeconds int    `mapstructure:"max_runtime_seconds" yaml:"max_runtime_seconds"`
	MaxRetries        int    `mapstructure:"max_retries" yaml:"max_retries"`
	NotifyChannel     string `mapstructure:"notify_channel" yaml:"notify_channel"`
}

// Interval is the minimum spacing between two runs of this agent.
func (d Descriptor) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// MaxRuntime is the hard timeout applied to a single run.
func (d Descriptor) MaxRuntime() time.Duration {
	return time.Duration(d.MaxRuntimeSeconds) * time.Second
}

// FileConfig 映射 agents 注册表文件。
type FileConfig struct {
	Agents []Descriptor `mapstructure:"agents" yaml:"agents"`
}

// Snapshot 公开的注册表快照。顺序与文件一致，优先级相同时先出现者胜出。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Agents   []Descriptor
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理 agent 描述符，支持热加载。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取注册表文件；watch 为 true 时监听文件更新。
func NewRegistry(path string, watch bool) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("agent registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read agent registry failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if watch {
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := r.reload(); err != nil {
				logger.Errorf("agent registry reload failed: %v", err)
				return
			}
			r.notifyListeners()
		})
		v.WatchConfig()
	}
	return r, nil
}

func (r *Registry) reload() error {
	var fc FileConfig
	if err := r.v.Unmarshal(&fc); err != nil {
		return fmt.Errorf("parse agent registry failed: %w", err)
	}
	agents, err := normalizeAgents(fc.Agents)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Agents:   agents,
	}
	r.mu.Unlock()
	logger.Infof("agent registry loaded: %d agents (version=%d)", len(agents), r.snapshot.Version)
	return nil
}

func normalizeAgents(in []Descriptor) ([]Descriptor, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("agent registry defines no agents")
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]Descriptor, 0, len(in))
	for i, d := range in {
		d.Name = strings.TrimSpace(d.Name)
		d.Endpoint = strings.TrimSpace(strings.TrimRight(d.Endpoint, "/"))
		if d.Name == "" {
			return nil, fmt.Errorf("agent #%d is missing a name", i)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name: %s", d.Name)
		}
		seen[d.Name] = struct{}{}
		if d.Endpoint == "" {
			return nil, fmt.Errorf("agent %s is missing an endpoint", d.Name)
		}
		if d.IntervalSeconds <= 0 {
			return nil, fmt.Errorf("agent %s: interval_seconds must be > 0", d.Name)
		}
		if d.Priority < 0 {
			return nil, fmt.Errorf("agent %s: priority must be >= 0", d.Name)
		}
		if d.MaxRuntimeSeconds <= 0 {
			return nil, fmt.Errorf("agent %s: max_runtime_seconds must be > 0", d.Name)
		}
		if d.MaxRetries <= 0 {
			return nil, fmt.Errorf("agent %s: max_retries must be > 0", d.Name)
		}
		out = append(out, d)
	}
	return out, nil
}

// Snapshot 返回当前描述符集（只读副本）。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snapshot
	snap.Agents = append([]Descriptor(nil), r.snapshot.Agents...)
	return snap
}

// Agents returns the descriptors in registry order.
func (r *Registry) Agents() []Descriptor {
	return r.Snapshot().Agents
}

// Lookup returns the descriptor for name, if configured.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.snapshot.Agents {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// OnChange 注册热加载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	snap := r.snapshot
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// DumpYAML renders the loaded table for the startup log.
func (r *Registry) DumpYAML() string {
	snap := r.Snapshot()
	out, err := yaml.Marshal(FileConfig{Agents: snap.Agents})
	if err != nil {
		return ""
	}
	return string(out)
}
