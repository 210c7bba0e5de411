package channel

import (
	"context"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"notifgw/internal/domain"
)

type telegramConfig struct {
	BotToken string `json:"botToken"`
	// APIURL overrides https://api.telegram.org, e.g. for a local Bot API server.
	APIURL string `json:"apiUrl"`
}

// chatID addresses a chat by the id or @username stored on the recipient.
type chatID string

func (c chatID) Recipient() string { return string(c) }

type TelegramHandler struct {
	http *HTTPClient
	bots *ClientCache[*tele.Bot]
}

func NewTelegramHandler(hc *HTTPClient) *TelegramHandler {
	h := &TelegramHandler{http: hc}
	h.bots = NewClientCache(h.build)
	return h
}

func (h *TelegramHandler) Type() domain.ChannelType { return domain.ChannelTelegram }

func (h *TelegramHandler) build(ch domain.Channel) (*tele.Bot, error) {
	cfg, err := decodeConfig[telegramConfig](ch)
	if err != nil {
		return nil, err
	}
	if err := requireFields(ch.Type, map[string]string{"botToken": cfg.BotToken}); err != nil {
		return nil, err
	}
	// Offline skips the getMe round trip; the bot is only used to send.
	return tele.NewBot(tele.Settings{
		Token:   cfg.BotToken,
		URL:     cfg.APIURL,
		Client:  h.http.HTTP,
		Offline: true,
	})
}

func (h *TelegramHandler) Send(ctx context.Context, d Delivery) Result {
	bot, err := h.bots.Get(d.Channel)
	if err != nil {
		return Fail(err)
	}
	// telebot takes no context; the call is bounded by the shared client's timeout.
	if err := ctx.Err(); err != nil {
		return Fail(err)
	}
	msg, err := bot.Send(chatID(d.Recipient), d.Content)
	if err != nil {
		return Fail(err)
	}
	return Ok(strconv.Itoa(msg.ID))
}

func (h *TelegramHandler) Invalidate(channelID int64) { h.bots.Invalidate(channelID) }
