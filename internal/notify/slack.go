package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// 中文说明：
// Slack 通知器：通过 incoming webhook 将调度与编排事件推送至指定频道。

type Slack struct {
	WebhookURL string
	Username   string
	Client     *http.Client
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		WebhookURL: webhookURL,
		Username:   "Maestro Orchestrator",
		Client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// SendText 发送文本消息（带最多 3 次重试）。
func (s *Slack) SendText(channel, text string) error {
	if strings.TrimSpace(s.WebhookURL) == "" {
		return fmt.Errorf("Slack webhook 未配置")
	}

	payload := map[string]any{
		"channel":  channel,
		"text":     text,
		"username": s.Username,
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, s.WebhookURL, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("slack status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}
