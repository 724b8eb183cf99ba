package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"maestro/internal/registry"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Verdict 是 analysis collaborator 返回的归一化结果。
// 不同 agent 返回的字段子集不同：市场分析给 sentiment/recommendation，
// 新闻分析给 sentiment_score/impact_level，风控给 risk_level。
type Verdict struct {
	Agent          string          `json:"agent"`
	Sentiment      string          `json:"sentiment,omitempty"`
	Recommendation string          `json:"recommendation,omitempty"`
	RiskLevel      string          `json:"risk_level,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	SentimentScore float64         `json:"sentiment_score,omitempty"`
	ImpactLevel    string          `json:"impact_level,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// HasRisk reports whether the collaborator produced a risk verdict.
func (v Verdict) HasRisk() bool { return strings.TrimSpace(v.RiskLevel) != "" }

const responseSchema = `{
	"type": "object",
	"properties": {
		"status": {"type": "string"},
		"analysis": {"type": "object"},
		"risk_assessment": {"type": "object"}
	}
}`

var compiledSchema = jsonschema.MustCompileString("analysis_response.json", responseSchema)

// Client calls the analysis collaborator over HTTP. The base URL comes from
// each agent's registry descriptor; the per-call timeout is the agent's max
// runtime, applied via context.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	// No client-level timeout: the per-run deadline is carried by context so
	// each agent's max_runtime applies individually.
	return &Client{http: &http.Client{}}
}

// RunAnalysis triggers one analysis run for the agent and normalizes the
// response. A non-200 status or a deadline hit is returned as an error.
func (c *Client) RunAnalysis(ctx context.Context, agent registry.Descriptor) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, agent.MaxRuntime())
	defer cancel()
	body, err := c.get(ctx, agent.Endpoint+"/analysis")
	if err != nil {
		return Verdict{}, err
	}
	return parseVerdict(agent.Name, body)
}

// RiskAssessment polls the risk endpoint used by the orchestration cycle.
func (c *Client) RiskAssessment(ctx context.Context, endpoint string) (Verdict, error) {
	body, err := c.get(ctx, strings.TrimRight(endpoint, "/")+"/risk-assessment")
	if err != nil {
		return Verdict{}, err
	}
	return parseVerdict("risk_manager", body)
}

// MarketAnalysis polls the analyst endpoint used by the orchestration cycle.
func (c *Client) MarketAnalysis(ctx context.Context, endpoint string) (Verdict, error) {
	body, err := c.get(ctx, strings.TrimRight(endpoint, "/")+"/analysis")
	if err != nil {
		return Verdict{}, err
	}
	return parseVerdict("market_analyst", body)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return body, nil
}

func parseVerdict(agent string, body []byte) (Verdict, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Verdict{}, fmt.Errorf("invalid analysis payload: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return Verdict{}, fmt.Errorf("analysis payload rejected: %w", err)
	}

	// Tolerant extraction: fields live either at the top level or under the
	// analysis / risk_assessment envelopes depending on the agent.
	pick := func(paths ...string) gjson.Result {
		for _, p := range paths {
			if r := gjson.GetBytes(body, p); r.Exists() {
				return r
			}
		}
		return gjson.Result{}
	}
	v := Verdict{
		Agent:          agent,
		Sentiment:      strings.ToUpper(pick("analysis.sentiment", "sentiment").String()),
		Recommendation: strings.ToUpper(pick("analysis.recommendation", "recommendation").String()),
		RiskLevel:      strings.ToUpper(pick("risk_assessment.risk_level", "risk_level").String()),
		Confidence:     pick("analysis.confidence", "confidence").Float(),
		SentimentScore: pick("analysis.sentiment_score", "sentiment_score").Float(),
		ImpactLevel:    strings.ToUpper(pick("analysis.impact_level", "impact_level").String()),
		Raw:            json.RawMessage(body),
	}
	return v, nil
}

// WithHTTPClient 供测试注入自定义 http.Client。
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.http = h
	}
	return c
}
