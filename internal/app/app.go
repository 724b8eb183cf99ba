package app

import (
	"context"
	"fmt"
	"time"

	"maestro/internal/config"
	"maestro/internal/gateway/analysis"
	"maestro/internal/gateway/optimizer"
	"maestro/internal/gateway/portfolio"
	"maestro/internal/logger"
	"maestro/internal/notify"
	"maestro/internal/orchestrator"
	"maestro/internal/registry"
	"maestro/internal/scheduler"
	"maestro/internal/stats"
	"maestro/internal/store/audit"
	"maestro/internal/store/runlog"
	adminhttp "maestro/internal/transport/http/admin"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级装配：加载注册表→构建调度器与编排引擎→启动管理接口。
type App struct {
	cfg *config.Config

	registry      *registry.Registry
	dispatcher    *notify.Dispatcher
	sched         *scheduler.Scheduler
	schedLoop     *scheduler.Loop
	engine        *orchestrator.Engine
	engineLoop    *orchestrator.Loop
	runs          *runlog.Store
	audit         *audit.Store
	adminServer   *adminhttp.Server
	statusChannel string
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	reg, err := registry.NewRegistry(cfg.Agents.Path, cfg.Agents.HotReload)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, registry: reg, statusChannel: cfg.Notify.Slack.DefaultChannel}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Slack.Enabled {
		a.dispatcher = notify.NewDispatcher(notify.NewSlack(cfg.Notify.Slack.WebhookURL), cfg.Notify.Slack.QueueSize)
		notifier = a.dispatcher
	}

	if cfg.Store.RunLogPath != "" {
		a.runs, err = runlog.Open(cfg.Store.RunLogPath)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Store.AuditPath != "" {
		a.audit, err = audit.Open(cfg.Store.AuditPath)
		if err != nil {
			return nil, err
		}
	}

	runStats := stats.NewRunStats()
	a.sched = scheduler.New(scheduler.Params{
		Registry:      reg,
		Runner:        analysis.NewClient(),
		Notifier:      notifier,
		Stats:         runStats,
		Sink:          runSink(a.runs),
		Cooldown:      seconds(cfg.Scheduler.CooldownSeconds),
		ErrorCooldown: seconds(cfg.Scheduler.ErrorCooldownSeconds),
	})
	a.schedLoop = scheduler.NewLoop(scheduler.LoopParams{
		Scheduler:     a.sched,
		Notifier:      notifier,
		Tick:          seconds(cfg.Scheduler.TickSeconds),
		ErrorBackoff:  seconds(cfg.Scheduler.ErrorBackoffSeconds),
		StatusChannel: a.statusChannel,
	})

	timeout := seconds(cfg.Collaborators.TimeoutSeconds)
	a.engine = orchestrator.NewEngine(orchestrator.EngineParams{
		Registry:  reg,
		Analysis:  analysis.NewClient(),
		Portfolio: portfolio.NewClient(cfg.Collaborators.PortfolioURL, timeout),
		Optimizer: optimizer.NewClient(cfg.Collaborators.OptimizerURL, timeout),
		Notifier:  notifier,
		Sink:      cycleSink(a.runs),

		Symbol:           cfg.Orchestrator.Symbol,
		Interval:         seconds(cfg.Orchestrator.IntervalSeconds),
		StatusEveryCycle: cfg.Orchestrator.StatusEveryCycles,
		StatusChannel:    a.statusChannel,
		Roles: orchestrator.RoleIntervals{
			RiskManager:   seconds(cfg.Orchestrator.RiskIntervalSeconds),
			MarketAnalyst: seconds(cfg.Orchestrator.AnalystIntervalSeconds),
			TradeExecutor: seconds(cfg.Orchestrator.ExecutorIntervalSeconds),
			Optimizer:     seconds(cfg.Orchestrator.OptimizerIntervalSeconds),
		},
	})
	a.engineLoop = orchestrator.NewLoop(a.engine, notifier, a.statusChannel)

	return a, nil
}

// Run 启动所有服务并阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	logger.InfoBlock("agent registry", a.registry.DumpYAML())

	server, err := adminhttp.NewServer(a.cfg.App.HTTPAddr, &adminhttp.Router{
		BaseCtx:       ctx,
		Scheduler:     a.sched,
		SchedulerLoop: a.schedLoop,
		Engine:        a.engine,
		EngineLoop:    a.engineLoop,
		Registry:      a.registry,
		Runs:          a.runs,
		Audit:         a.audit,
	})
	if err != nil {
		return err
	}
	a.adminServer = server

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.adminServer.Start(ctx); err != nil {
			return fmt.Errorf("admin http server error: %w", err)
		}
		return nil
	})

	if a.dispatcher != nil {
		group.Go(func() error {
			if err := a.dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if a.cfg.Scheduler.AutoStart {
		a.schedLoop.Start(ctx)
	}
	if a.cfg.Orchestrator.AutoStart {
		a.engineLoop.Start(ctx)
	}

	group.Go(func() error {
		<-ctx.Done()
		a.schedLoop.Stop()
		a.engineLoop.Stop()
		a.closeStores()
		return nil
	})

	return group.Wait()
}

func (a *App) closeStores() {
	if a.runs != nil {
		if err := a.runs.Close(); err != nil {
			logger.Warnf("close runlog store: %v", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("close audit store: %v", err)
		}
	}
}

// runSink 把可空的 store 适配成 sink 接口：关闭遥测时传 nil 接口。
func runSink(s *runlog.Store) scheduler.RunSink {
	if s == nil {
		return nil
	}
	return s
}

func cycleSink(s *runlog.Store) orchestrator.CycleSink {
	if s == nil {
		return nil
	}
	return s
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
