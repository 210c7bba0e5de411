package channel

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	sms "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/sms/v20210111"

	"notifgw/internal/domain"
)

const (
	tencentDefaultRegion   = "ap-guangzhou"
	tencentDefaultEndpoint = "sms.tencentcloudapi.com"
)

type tencentConfig struct {
	SecretID  string `json:"secretId"`
	SecretKey string `json:"secretKey"`
	SDKAppID  string `json:"sdkAppId"`
	SignName  string `json:"signName"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
}

type tencentAPI interface {
	SendSmsWithContext(ctx context.Context, req *sms.SendSmsRequest) (*sms.SendSmsResponse, error)
}

type tencentClient struct {
	api      tencentAPI
	sdkAppID string
	signName string
}

type TencentSMSHandler struct {
	clients *ClientCache[tencentClient]
	newAPI  func(cfg tencentConfig) (tencentAPI, error)
}

func NewTencentSMSHandler() *TencentSMSHandler {
	h := &TencentSMSHandler{newAPI: newTencentAPI}
	h.clients = NewClientCache(h.build)
	return h
}

func newTencentAPI(cfg tencentConfig) (tencentAPI, error) {
	cred := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = tencentDefaultEndpoint
	if cfg.Endpoint != "" {
		cpf.HttpProfile.Endpoint = cfg.Endpoint
	}
	region := cfg.Region
	if region == "" {
		region = tencentDefaultRegion
	}
	return sms.NewClient(cred, region, cpf)
}

func (h *TencentSMSHandler) Type() domain.ChannelType { return domain.ChannelTencentSMS }

func (h *TencentSMSHandler) build(ch domain.Channel) (tencentClient, error) {
	cfg, err := decodeConfig[tencentConfig](ch)
	if err != nil {
		return tencentClient{}, err
	}
	if err := requireFields(ch.Type, map[string]string{
		"secretId": cfg.SecretID, "secretKey": cfg.SecretKey, "sdkAppId": cfg.SDKAppID, "signName": cfg.SignName,
	}); err != nil {
		return tencentClient{}, err
	}
	api, err := h.newAPI(cfg)
	if err != nil {
		return tencentClient{}, err
	}
	return tencentClient{api: api, sdkAppID: cfg.SDKAppID, signName: cfg.SignName}, nil
}

func (h *TencentSMSHandler) Send(ctx context.Context, d Delivery) Result {
	cli, err := h.clients.Get(d.Channel)
	if err != nil {
		return Fail(err)
	}
	values := positionalParams(d.Params)
	snapshot, _ := json.Marshal(values)
	content := "TemplateId: " + d.Template.ThirdPartyID + ", Params: " + string(snapshot)

	req := sms.NewSendSmsRequest()
	req.SmsSdkAppId = common.StringPtr(cli.sdkAppID)
	req.SignName = common.StringPtr(cli.signName)
	req.TemplateId = common.StringPtr(d.Template.ThirdPartyID)
	req.PhoneNumberSet = common.StringPtrs([]string{d.Recipient})
	req.TemplateParamSet = common.StringPtrs(values)

	resp, err := cli.api.SendSmsWithContext(ctx, req)
	if err != nil {
		return Fail(err).withContent(content)
	}
	if resp == nil || resp.Response == nil || len(resp.Response.SendStatusSet) == 0 || resp.Response.SendStatusSet[0] == nil {
		return Failf("tencent sms: empty send status").withContent(content)
	}
	st := resp.Response.SendStatusSet[0]
	if code := deref(st.Code); code != "Ok" && code != "OK" {
		return Failf("tencent sms: %s: %s", code, deref(st.Message)).withContent(content)
	}
	return Ok(deref(st.SerialNo)).withContent(content)
}

func (h *TencentSMSHandler) Invalidate(channelID int64) { h.clients.Invalidate(channelID) }

// positionalParams orders params as "1","2",... when the caller used numbered keys,
// otherwise by key name.
func positionalParams(params map[string]any) []string {
	var out []string
	for i := 1; i <= len(params); i++ {
		v, ok := params[strconv.Itoa(i)]
		if !ok {
			break
		}
		out = append(out, stringify(v))
	}
	if len(out) > 0 || len(params) == 0 {
		return out
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, stringify(params[k]))
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
