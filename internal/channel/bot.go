package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"notifgw/internal/domain"
)

type botConfig struct {
	WebhookURL string `json:"webhookUrl"`
	Secret     string `json:"secret"`
}

// BotHandler posts text to a group-bot webhook. DingTalk, WeChat Work and Feishu only
// differ in body shape, signing and how the reply reports success.
type BotHandler struct {
	typ  domain.ChannelType
	http *HTTPClient
	now  func() time.Time
}

func NewDingTalkHandler(hc *HTTPClient) *BotHandler {
	return &BotHandler{typ: domain.ChannelDingTalk, http: hc, now: time.Now}
}

func NewWeChatWorkHandler(hc *HTTPClient) *BotHandler {
	return &BotHandler{typ: domain.ChannelWeChatWork, http: hc, now: time.Now}
}

func NewFeishuHandler(hc *HTTPClient) *BotHandler {
	return &BotHandler{typ: domain.ChannelFeishu, http: hc, now: time.Now}
}

func (h *BotHandler) Type() domain.ChannelType { return h.typ }

func (h *BotHandler) Send(ctx context.Context, d Delivery) Result {
	cfg, err := decodeConfig[botConfig](d.Channel)
	if err != nil {
		return Fail(err)
	}
	if err := requireFields(d.Channel.Type, map[string]string{"webhookUrl": cfg.WebhookURL}); err != nil {
		return Fail(err)
	}

	target, body, err := h.request(cfg, d)
	if err != nil {
		return Fail(err)
	}
	resp, err := h.http.PostJSON(ctx, target, body)
	if err != nil {
		return Fail(err)
	}

	var out struct {
		ErrCode *int   `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		Code    *int   `json:"code"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return Failf("%s: http %d: %s", h.typ, resp.Status, string(resp.Body))
	}
	switch {
	case out.ErrCode != nil && *out.ErrCode != 0:
		return Failf("%s: %d %s", h.typ, *out.ErrCode, out.ErrMsg)
	case out.Code != nil && *out.Code != 0:
		return Failf("%s: %d %s", h.typ, *out.Code, out.Msg)
	case out.ErrCode == nil && out.Code == nil:
		return Failf("%s: http %d: unrecognised reply", h.typ, resp.Status)
	}
	return Ok("")
}

func (h *BotHandler) request(cfg botConfig, d Delivery) (string, []byte, error) {
	now := h.now()
	var payload any
	target := cfg.WebhookURL

	switch h.typ {
	case domain.ChannelDingTalk:
		msg := map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": d.Content},
		}
		if d.Recipient != "" {
			msg["at"] = map[string]any{"atMobiles": []string{d.Recipient}}
		}
		payload = msg
		if cfg.Secret != "" {
			ts := strconv.FormatInt(now.UnixMilli(), 10)
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + "timestamp=" + ts + "&sign=" + url.QueryEscape(dingTalkSign(ts, cfg.Secret))
		}
	case domain.ChannelWeChatWork:
		text := map[string]any{"content": d.Content}
		if d.Recipient != "" {
			text["mentioned_mobile_list"] = []string{d.Recipient}
		}
		payload = map[string]any{"msgtype": "text", "text": text}
	case domain.ChannelFeishu:
		msg := map[string]any{
			"msg_type": "text",
			"content":  map[string]string{"text": d.Content},
		}
		if cfg.Secret != "" {
			ts := strconv.FormatInt(now.Unix(), 10)
			msg["timestamp"] = ts
			msg["sign"] = feishuSign(ts, cfg.Secret)
		}
		payload = msg
	default:
		return "", nil, fmt.Errorf("bot handler: unsupported type %s", h.typ)
	}

	body, err := json.Marshal(payload)
	return target, body, err
}

// dingTalkSign is base64(HMAC-SHA256(secret, timestamp + "\n" + secret)).
func dingTalkSign(ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// feishuSign keys the HMAC with timestamp + "\n" + secret over an empty message.
func feishuSign(ts, secret string) string {
	mac := hmac.New(sha256.New, []byte(ts+"\n"+secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
