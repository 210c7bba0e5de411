package channel

import (
	"context"
	"errors"

	"notifgw/internal/backoff"
	"notifgw/internal/domain"
	"notifgw/internal/providers/twilio"
)

type twilioConfig struct {
	AccountSID          string `json:"accountSid"`
	AuthToken           string `json:"authToken"`
	FromPhone           string `json:"fromPhone"`
	MessagingServiceSID string `json:"messagingServiceSid"`
	StatusCallbackURL   string `json:"statusCallbackUrl"`
	BaseURL             string `json:"baseUrl"`
}

type twilioClient struct {
	api      *twilio.Client
	callback string
}

type TwilioHandler struct {
	http    *HTTPClient
	clients *ClientCache[twilioClient]
}

func NewTwilioHandler(hc *HTTPClient) *TwilioHandler {
	h := &TwilioHandler{http: hc}
	h.clients = NewClientCache(h.build)
	return h
}

func (h *TwilioHandler) Type() domain.ChannelType { return domain.ChannelTwilio }

func (h *TwilioHandler) build(ch domain.Channel) (twilioClient, error) {
	cfg, err := decodeConfig[twilioConfig](ch)
	if err != nil {
		return twilioClient{}, err
	}
	sender := cfg.FromPhone
	if cfg.MessagingServiceSID != "" {
		sender = cfg.MessagingServiceSID
	}
	if err := requireFields(ch.Type, map[string]string{
		"accountSid": cfg.AccountSID, "authToken": cfg.AuthToken, "fromPhone": sender,
	}); err != nil {
		return twilioClient{}, err
	}
	return twilioClient{
		api: &twilio.Client{
			AccountSID:          cfg.AccountSID,
			AuthToken:           cfg.AuthToken,
			FromNumber:          cfg.FromPhone,
			MessagingServiceSID: cfg.MessagingServiceSID,
			BaseURL:             cfg.BaseURL,
			HTTP:                h.http.HTTP,
		},
		callback: cfg.StatusCallbackURL,
	}, nil
}

func (h *TwilioHandler) Send(ctx context.Context, d Delivery) Result {
	cli, err := h.clients.Get(d.Channel)
	if err != nil {
		return Fail(err)
	}

	var sid string
	err = backoff.Retry(ctx, h.http.Attempts, h.http.Strategy, func(ctx context.Context, _ int) (bool, error) {
		resp, status, err := cli.api.SendSMS(ctx, twilio.SendRequest{
			To:                d.Recipient,
			Body:              d.Content,
			StatusCallbackURL: cli.callback,
		})
		if err != nil {
			var apiErr *twilio.APIError
			if errors.As(err, &apiErr) {
				return retryable(nil, status), err
			}
			return retryable(err, 0), err
		}
		sid = resp.Sid
		return false, nil
	})
	if err != nil {
		return Fail(err)
	}
	if sid == "" {
		return Failf("twilio: empty message sid")
	}
	return Ok(sid)
}

func (h *TwilioHandler) Invalidate(channelID int64) { h.clients.Invalidate(channelID) }
