package adminhttp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"maestro/internal/config"
	"maestro/internal/logger"
	"maestro/internal/orchestrator"
	"maestro/internal/registry"
	"maestro/internal/scheduler"
	"maestro/internal/store/audit"
	"maestro/internal/store/runlog"

	"github.com/gin-gonic/gin"
)

// Router 暴露调度器与编排引擎的管理接口。BaseCtx 是应用生命周期的
// context：手动启动的循环挂在它下面，而不是随请求结束被取消。
type Router struct {
	BaseCtx       context.Context
	Scheduler     *scheduler.Scheduler
	SchedulerLoop *scheduler.Loop
	Engine        *orchestrator.Engine
	EngineLoop    *orchestrator.Loop
	Registry      *registry.Registry
	Runs          *runlog.Store
	Audit         *audit.Store
}

func (r *Router) baseCtx() context.Context {
	if r.BaseCtx != nil {
		return r.BaseCtx
	}
	return context.Background()
}

// Register 将管理路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	sched := group.Group("/scheduler")
	sched.GET("/status", r.handleSchedulerStatus)
	sched.POST("/start", r.handleSchedulerStart)
	sched.POST("/stop", r.handleSchedulerStop)

	orch := group.Group("/orchestrator")
	orch.GET("/status", r.handleOrchestratorStatus)
	orch.POST("/start", r.handleOrchestratorStart)
	orch.POST("/stop", r.handleOrchestratorStop)
	orch.POST("/cycle", r.handleOrchestratorCycle)

	group.GET("/agents", r.handleAgents)
	group.GET("/runs", r.handleRuns)
	group.GET("/cycles", r.handleCycles)

	cfg := group.Group("/config")
	cfg.POST("/update", r.handleConfigUpdate)
	cfg.GET("/changes", r.handleConfigChanges)
}

func (r *Router) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":  r.SchedulerLoop.Running(),
		"snapshot": r.Scheduler.Snapshot(),
	})
}

func (r *Router) handleSchedulerStart(c *gin.Context) {
	r.SchedulerLoop.Start(r.baseCtx())
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (r *Router) handleSchedulerStop(c *gin.Context) {
	r.SchedulerLoop.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (r *Router) handleOrchestratorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running": r.EngineLoop.Running(),
		"engine":  r.Engine.Status(),
	})
}

func (r *Router) handleOrchestratorStart(c *gin.Context) {
	r.EngineLoop.Start(r.baseCtx())
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (r *Router) handleOrchestratorStop(c *gin.Context) {
	r.EngineLoop.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

// handleOrchestratorCycle 手动触发一轮编排，返回本轮结果。
func (r *Router) handleOrchestratorCycle(c *gin.Context) {
	result := r.EngineLoop.RunOnce(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

func (r *Router) handleAgents(c *gin.Context) {
	snap := r.Registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"agents":    snap.Agents,
	})
}

func (r *Router) handleRuns(c *gin.Context) {
	if r.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := r.Runs.RecentRuns(c.Query("agent"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (r *Router) handleCycles(c *gin.Context) {
	if r.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	cycles, err := r.Runs.RecentCycles(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": cycles})
}

type configUpdateRequest struct {
	Key   string `json:"key" binding:"required"`
	Value int    `json:"value" binding:"required"`
}

// handleConfigUpdate 应用运行时配置变更。目前只支持 orchestration_interval，
// 越界值直接拒绝，成功的变更写入审计库。
func (r *Router) handleConfigUpdate(c *gin.Context) {
	var req configUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Key {
	case "orchestration_interval":
		if req.Value < config.MinOrchestrationInterval || req.Value > config.MaxOrchestrationInterval {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("orchestration_interval must be between %d and %d seconds",
					config.MinOrchestrationInterval, config.MaxOrchestrationInterval),
			})
			return
		}
		old := int(r.Engine.Interval() / time.Second)
		r.Engine.SetInterval(time.Duration(req.Value) * time.Second)
		if r.Audit != nil {
			if err := r.Audit.Append(req.Key, strconv.Itoa(old), strconv.Itoa(req.Value), c.ClientIP()); err != nil {
				logger.Warnf("audit append failed: %v", err)
			}
		}
		logger.Infof("orchestration interval updated: %ds -> %ds", old, req.Value)
		c.JSON(http.StatusOK, gin.H{"key": req.Key, "old_value": old, "new_value": req.Value})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported config key: %s", req.Key)})
	}
}

func (r *Router) handleConfigChanges(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	changes, err := r.Audit.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}
