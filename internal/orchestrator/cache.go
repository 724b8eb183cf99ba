package orchestrator

import (
	"sync"
	"time"

	"maestro/internal/gateway/analysis"
)

// ResultCache 保存各 role 最近一次的轮询结果，交易决策跨 role 共享。
// 每个字段带上写入时间，状态接口据此暴露数据新鲜度。
type ResultCache struct {
	mu sync.Mutex

	risk       analysis.Verdict
	riskAt     time.Time
	market     analysis.Verdict
	marketAt   time.Time
	optimizing bool
	optAt      time.Time
}

func NewResultCache() *ResultCache {
	return &ResultCache{}
}

func (c *ResultCache) SetRisk(v analysis.Verdict, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.risk = v
	c.riskAt = at
}

// Risk returns the cached risk verdict; ok is false before the first poll.
func (c *ResultCache) Risk() (analysis.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.risk, !c.riskAt.IsZero()
}

func (c *ResultCache) SetMarket(v analysis.Verdict, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.market = v
	c.marketAt = at
}

func (c *ResultCache) Market() (analysis.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.market, !c.marketAt.IsZero()
}

func (c *ResultCache) SetOptimizing(v bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.optimizing = v
	c.optAt = at
}

func (c *ResultCache) Optimizing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.optimizing
}

// View 是缓存的只读快照，用于状态接口。
type CacheView struct {
	RiskLevel       string `json:"risk_level,omitempty"`
	RiskAt          int64  `json:"risk_at,omitempty"`
	MarketSentiment string `json:"market_sentiment,omitempty"`
	MarketAt        int64  `json:"market_at,omitempty"`
	Optimizing      bool   `json:"optimizing"`
}

func (c *ResultCache) View() CacheView {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := CacheView{Optimizing: c.optimizing}
	if !c.riskAt.IsZero() {
		view.RiskLevel = c.risk.RiskLevel
		view.RiskAt = c.riskAt.Unix()
	}
	if !c.marketAt.IsZero() {
		view.MarketSentiment = c.market.Sentiment
		view.MarketAt = c.marketAt.Unix()
	}
	return view
}
