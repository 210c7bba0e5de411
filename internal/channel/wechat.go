package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"notifgw/internal/domain"
)

const (
	wechatDefaultBaseURL = "https://api.weixin.qq.com"
	// Refresh this long before the provider-side expiry.
	wechatTokenSkew = 5 * time.Minute
)

// errcodes meaning the cached access token is no longer accepted.
var wechatTokenInvalid = map[int]bool{40001: true, 40014: true, 42001: true}

type wechatConfig struct {
	AppID       string `json:"appId"`
	Secret      string `json:"secret"`
	RedirectURL string `json:"redirectUrl"`
	BaseURL     string `json:"baseUrl"`
}

// wechatClient holds one official account's access token.
type wechatClient struct {
	cfg  wechatConfig
	http *HTTPClient
	now  func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (c *wechatClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credential")
	q.Set("appid", c.cfg.AppID)
	q.Set("secret", c.cfg.Secret)
	resp, err := c.http.Do(ctx, "GET", c.cfg.BaseURL+"/cgi-bin/token?"+q.Encode(), nil, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("wechat token: http %d: %w", resp.Status, err)
	}
	if out.ErrCode != 0 || out.AccessToken == "" {
		return "", fmt.Errorf("wechat token: %d %s", out.ErrCode, out.ErrMsg)
	}
	ttl := time.Duration(out.ExpiresIn)*time.Second - wechatTokenSkew
	if ttl <= 0 {
		ttl = time.Minute
	}
	c.token = out.AccessToken
	c.expires = c.now().Add(ttl)
	return c.token, nil
}

func (c *wechatClient) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

type wechatTemplateMessage struct {
	ToUser     string                       `json:"touser"`
	TemplateID string                       `json:"template_id"`
	URL        string                       `json:"url,omitempty"`
	Data       map[string]wechatTemplateVal `json:"data"`
}

type wechatTemplateVal struct {
	Value string `json:"value"`
}

// WeChatOfficialHandler sends template messages from an official account.
type WeChatOfficialHandler struct {
	http    *HTTPClient
	clients *ClientCache[*wechatClient]
}

func NewWeChatOfficialHandler(hc *HTTPClient) *WeChatOfficialHandler {
	h := &WeChatOfficialHandler{http: hc}
	h.clients = NewClientCache(h.build)
	return h
}

func (h *WeChatOfficialHandler) Type() domain.ChannelType { return domain.ChannelWeChatOfficial }

func (h *WeChatOfficialHandler) build(ch domain.Channel) (*wechatClient, error) {
	cfg, err := decodeConfig[wechatConfig](ch)
	if err != nil {
		return nil, err
	}
	if err := requireFields(ch.Type, map[string]string{"appId": cfg.AppID, "secret": cfg.Secret}); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = wechatDefaultBaseURL
	}
	return &wechatClient{cfg: cfg, http: h.http, now: time.Now}, nil
}

func (h *WeChatOfficialHandler) Send(ctx context.Context, d Delivery) Result {
	cli, err := h.clients.Get(d.Channel)
	if err != nil {
		return Fail(err)
	}

	msg := wechatTemplateMessage{
		ToUser:     d.Recipient,
		TemplateID: d.Template.ThirdPartyID,
		URL:        cli.cfg.RedirectURL,
		Data:       templateData(d.Template.Variables, d.Params),
	}
	if v, ok := d.Params["redirectUrl"]; ok {
		msg.URL = stringify(v)
	}
	snapshot, _ := json.Marshal(msg.Data)
	body, err := json.Marshal(msg)
	if err != nil {
		return Fail(err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := cli.accessToken(ctx)
		if err != nil {
			return Fail(err).withContent(string(snapshot))
		}
		resp, err := h.http.PostJSON(ctx, cli.cfg.BaseURL+"/cgi-bin/message/template/send?access_token="+url.QueryEscape(token), body)
		if err != nil {
			return Fail(err).withContent(string(snapshot))
		}
		var out struct {
			ErrCode int    `json:"errcode"`
			ErrMsg  string `json:"errmsg"`
			MsgID   int64  `json:"msgid"`
		}
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return Failf("wechat send: http %d: %v", resp.Status, err).withContent(string(snapshot))
		}
		if out.ErrCode == 0 {
			return Ok(strconv.FormatInt(out.MsgID, 10)).withContent(string(snapshot))
		}
		if !wechatTokenInvalid[out.ErrCode] {
			return Failf("wechat send: %d %s", out.ErrCode, out.ErrMsg).withContent(string(snapshot))
		}
		cli.dropToken()
	}
	return Failf("wechat send: access token rejected").withContent(string(snapshot))
}

func (h *WeChatOfficialHandler) Invalidate(channelID int64) { h.clients.Invalidate(channelID) }

// templateData fills the declared variables (a JSON array of names) from params, or every
// param when the template declares none.
func templateData(variables string, params map[string]any) map[string]wechatTemplateVal {
	data := make(map[string]wechatTemplateVal)
	var names []string
	if strings.TrimSpace(variables) != "" {
		_ = json.Unmarshal([]byte(variables), &names)
	}
	if len(names) == 0 {
		for k, v := range params {
			data[k] = wechatTemplateVal{Value: stringify(v)}
		}
		return data
	}
	for _, n := range names {
		if v, ok := params[n]; ok && v != nil {
			data[n] = wechatTemplateVal{Value: stringify(v)}
		}
	}
	return data
}
