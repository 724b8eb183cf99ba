package portfolio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProfitStatus 是 /daily-profit-status 的归一化结果。
type ProfitStatus struct {
	TargetReached  bool            `json:"target_reached"`
	DailyProfit    decimal.Decimal `json:"daily_profit"`
	DailyProfitPct decimal.Decimal `json:"daily_profit_pct"`
	TargetPct      decimal.Decimal `json:"target_pct"`
}

// Snapshot 汇总组合当前持仓，仅用于状态通知。
type Snapshot struct {
	TotalValue  decimal.Decimal `json:"total_value"`
	BTCBalance  decimal.Decimal `json:"btc_balance"`
	USDCBalance decimal.Decimal `json:"usdc_balance"`
	BTCPrice    decimal.Decimal `json:"current_btc_price"`
}

// TradeRequest 是发往 execute-trade 的下单请求。
type TradeRequest struct {
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Source         string          `json:"source"`
	RiskAssessment json.RawMessage `json:"risk_assessment,omitempty"`
	MarketAnalysis json.RawMessage `json:"market_analysis,omitempty"`
}

// TradeResult 是 execute-trade 的响应。Status 为 "executed" 表示成交。
type TradeResult struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

func (r TradeResult) Executed() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), "executed")
}

// Client 访问 portfolio collaborator（盈利状态、组合快照、下单）。
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// DailyProfitStatus polls the daily profit circuit-breaker state.
func (c *Client) DailyProfitStatus(ctx context.Context) (ProfitStatus, error) {
	var out ProfitStatus
	if err := c.getJSON(ctx, "/daily-profit-status", &out); err != nil {
		return ProfitStatus{}, err
	}
	return out, nil
}

// Portfolio fetches the portfolio snapshot used in status notifications.
func (c *Client) Portfolio(ctx context.Context) (Snapshot, error) {
	var envelope struct {
		Portfolio Snapshot `json:"portfolio"`
	}
	if err := c.getJSON(ctx, "/portfolio", &envelope); err != nil {
		return Snapshot{}, err
	}
	return envelope.Portfolio, nil
}

// ExecuteTrade submits a trade request. Transport errors are returned as
// errors; a rejected trade comes back as a TradeResult with its status.
func (c *Client) ExecuteTrade(ctx context.Context, req TradeRequest) (TradeResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return TradeResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/execute-trade", bytes.NewReader(payload))
	if err != nil {
		return TradeResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return TradeResult{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TradeResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return TradeResult{}, fmt.Errorf("execute-trade HTTP %d", resp.StatusCode)
	}
	var out TradeResult
	if err := json.Unmarshal(body, &out); err != nil {
		return TradeResult{}, fmt.Errorf("invalid execute-trade payload: %w", err)
	}
	out.Raw = json.RawMessage(body)
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
