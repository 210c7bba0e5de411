package channel

import (
	"context"
	"encoding/json"
	"strings"

	"notifgw/internal/domain"
)

type slackConfig struct {
	WebhookURL string `json:"webhookUrl"`
}

// SlackHandler posts to an incoming webhook, which answers with the literal body "ok".
type SlackHandler struct {
	http *HTTPClient
}

func NewSlackHandler(hc *HTTPClient) *SlackHandler { return &SlackHandler{http: hc} }

func (h *SlackHandler) Type() domain.ChannelType { return domain.ChannelSlack }

func (h *SlackHandler) Send(ctx context.Context, d Delivery) Result {
	cfg, err := decodeConfig[slackConfig](d.Channel)
	if err != nil {
		return Fail(err)
	}
	if err := requireFields(d.Channel.Type, map[string]string{"webhookUrl": cfg.WebhookURL}); err != nil {
		return Fail(err)
	}
	body, _ := json.Marshal(map[string]string{"text": d.Content})
	resp, err := h.http.PostJSON(ctx, cfg.WebhookURL, body)
	if err != nil {
		return Fail(err)
	}
	if got := strings.TrimSpace(string(resp.Body)); got != "ok" {
		return Failf("slack: http %d: %s", resp.Status, got)
	}
	return Ok("")
}
