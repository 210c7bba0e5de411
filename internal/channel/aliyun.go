package channel

import (
	"context"
	"encoding/json"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dysmsapi "github.com/alibabacloud-go/dysmsapi-20170525/v4/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"

	"notifgw/internal/domain"
)

const aliyunDefaultEndpoint = "dysmsapi.aliyuncs.com"

type aliyunConfig struct {
	AccessKeyID     string `json:"accessKeyId"`
	AccessKeySecret string `json:"accessKeySecret"`
	SignName        string `json:"signName"`
	RegionID        string `json:"regionId"`
	Endpoint        string `json:"endpoint"`
}

type aliyunAPI interface {
	SendSmsWithOptions(req *dysmsapi.SendSmsRequest, runtime *util.RuntimeOptions) (*dysmsapi.SendSmsResponse, error)
}

type aliyunClient struct {
	api      aliyunAPI
	signName string
}

// AliyunSMSHandler sends the SMS channel type through Alibaba Cloud SMS. The template's
// third-party id is the provider template code; params are passed as its JSON parameters.
type AliyunSMSHandler struct {
	clients *ClientCache[aliyunClient]
	newAPI  func(cfg aliyunConfig) (aliyunAPI, error)
}

func NewAliyunSMSHandler() *AliyunSMSHandler {
	h := &AliyunSMSHandler{newAPI: newAliyunAPI}
	h.clients = NewClientCache(h.build)
	return h
}

func newAliyunAPI(cfg aliyunConfig) (aliyunAPI, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = aliyunDefaultEndpoint
	}
	c := &openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String(endpoint),
	}
	if cfg.RegionID != "" {
		c.RegionId = tea.String(cfg.RegionID)
	}
	return dysmsapi.NewClient(c)
}

func (h *AliyunSMSHandler) Type() domain.ChannelType { return domain.ChannelSMS }

func (h *AliyunSMSHandler) build(ch domain.Channel) (aliyunClient, error) {
	cfg, err := decodeConfig[aliyunConfig](ch)
	if err != nil {
		return aliyunClient{}, err
	}
	if err := requireFields(ch.Type, map[string]string{
		"accessKeyId": cfg.AccessKeyID, "accessKeySecret": cfg.AccessKeySecret, "signName": cfg.SignName,
	}); err != nil {
		return aliyunClient{}, err
	}
	api, err := h.newAPI(cfg)
	if err != nil {
		return aliyunClient{}, err
	}
	return aliyunClient{api: api, signName: cfg.SignName}, nil
}

func (h *AliyunSMSHandler) Send(ctx context.Context, d Delivery) Result {
	cli, err := h.clients.Get(d.Channel)
	if err != nil {
		return Fail(err)
	}
	runtime, err := aliyunRuntime(ctx)
	if err != nil {
		return Fail(err)
	}
	params := "{}"
	if len(d.Params) > 0 {
		b, err := json.Marshal(d.Params)
		if err != nil {
			return Fail(err)
		}
		params = string(b)
	}

	resp, err := cli.api.SendSmsWithOptions(&dysmsapi.SendSmsRequest{
		PhoneNumbers:  tea.String(d.Recipient),
		SignName:      tea.String(cli.signName),
		TemplateCode:  tea.String(d.Template.ThirdPartyID),
		TemplateParam: tea.String(params),
	}, runtime)
	if err != nil {
		return Fail(err)
	}
	if resp == nil || resp.Body == nil {
		return Failf("aliyun sms: empty response")
	}
	if tea.StringValue(resp.Body.Code) != "OK" {
		return Failf("aliyun sms: %s: %s", tea.StringValue(resp.Body.Code), tea.StringValue(resp.Body.Message))
	}
	return Ok(tea.StringValue(resp.Body.BizId))
}

// aliyunRuntime turns the ctx deadline into SDK timeouts; the SDK takes no context.
func aliyunRuntime(ctx context.Context) (*util.RuntimeOptions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rt := &util.RuntimeOptions{}
	if dl, ok := ctx.Deadline(); ok {
		ms := int(time.Until(dl).Milliseconds())
		if ms <= 0 {
			return nil, context.DeadlineExceeded
		}
		rt.ConnectTimeout = tea.Int(ms)
		rt.ReadTimeout = tea.Int(ms)
	}
	return rt, nil
}

func (h *AliyunSMSHandler) Invalidate(channelID int64) { h.clients.Invalidate(channelID) }
