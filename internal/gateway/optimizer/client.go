package optimizer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Health 是 optimizer collaborator 的健康视图。
type Health struct {
	IsOptimizing bool
}

// Client 访问 parameter optimizer collaborator。
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

func (c *Client) Health(ctx context.Context) (Health, error) {
	body, err := c.do(ctx, http.MethodGet, "/health")
	if err != nil {
		return Health{}, err
	}
	return Health{IsOptimizing: gjson.GetBytes(body, "is_optimizing").Bool()}, nil
}

// StartMonitoring asks the optimizer to begin watching live performance.
func (c *Client) StartMonitoring(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodPost, "/start-monitoring")
	if err != nil {
		return err
	}
	if accepted := gjson.GetBytes(body, "accepted"); accepted.Exists() && !accepted.Bool() {
		return fmt.Errorf("start-monitoring not accepted")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
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
		return nil, fmt.Errorf("%s HTTP %d", path, resp.StatusCode)
	}
	return body, nil
}
