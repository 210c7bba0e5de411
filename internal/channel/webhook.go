package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"notifgw/internal/domain"
)

type webhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

type webhookPayload struct {
	Recipient    string         `json:"recipient"`
	TemplateCode string         `json:"templateCode"`
	Params       map[string]any `json:"params"`
	Content      string         `json:"content"`
}

// WebhookHandler calls an arbitrary HTTP endpoint. The JSON payload is recorded as the detail content.
type WebhookHandler struct {
	http *HTTPClient
}

func NewWebhookHandler(hc *HTTPClient) *WebhookHandler { return &WebhookHandler{http: hc} }

func (h *WebhookHandler) Type() domain.ChannelType { return domain.ChannelWebhook }

func (h *WebhookHandler) Send(ctx context.Context, d Delivery) Result {
	cfg, err := decodeConfig[webhookConfig](d.Channel)
	if err != nil {
		return Fail(err)
	}
	if err := requireFields(d.Channel.Type, map[string]string{"url": cfg.URL}); err != nil {
		return Fail(err)
	}

	payload, err := json.Marshal(webhookPayload{
		Recipient:    d.Recipient,
		TemplateCode: d.Template.Code,
		Params:       d.Params,
		Content:      d.Content,
	})
	if err != nil {
		return Fail(err)
	}

	method := http.MethodPost
	var body []byte
	header := http.Header{}
	if strings.EqualFold(cfg.Method, http.MethodGet) {
		method = http.MethodGet
	} else {
		body = payload
		header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	resp, err := h.http.Do(ctx, method, cfg.URL, header, body)
	if err != nil {
		return Fail(err).withContent(string(payload))
	}
	if !resp.OK() {
		return Failf("Status: %d, Body: %s", resp.Status, string(resp.Body)).withContent(string(payload))
	}
	return Ok("").withContent(string(payload))
}
