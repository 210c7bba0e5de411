package domain

import "time"

type ChannelType string

const (
	ChannelSMS            ChannelType = "SMS"
	ChannelEmail          ChannelType = "EMAIL"
	ChannelWeChatOfficial ChannelType = "WECHAT_OFFICIAL"
	ChannelWeChatWork     ChannelType = "WECHAT_WORK"
	ChannelDingTalk       ChannelType = "DINGTALK"
	ChannelFeishu         ChannelType = "FEISHU"
	ChannelTelegram       ChannelType = "TELEGRAM"
	ChannelSlack          ChannelType = "SLACK"
	ChannelTencentSMS     ChannelType = "TENCENT_SMS"
	ChannelTwilio         ChannelType = "TWILIO"
	ChannelWebhook        ChannelType = "WEBHOOK"
)

// ChannelTypes is the closed set of channel types a channel row may carry.
var ChannelTypes = []ChannelType{
	ChannelSMS, ChannelEmail, ChannelWeChatOfficial, ChannelWeChatWork, ChannelDingTalk,
	ChannelFeishu, ChannelTelegram, ChannelSlack, ChannelTencentSMS, ChannelTwilio, ChannelWebhook,
}

// Status values shared by templates, channels, recipients and short links.
const (
	StatusDisabled = 0
	StatusEnabled  = 1
)

type Template struct {
	ID                int64
	Name              string
	Code              string
	AppID             int64
	ChannelID         int64
	MsgType           int
	ThirdPartyID      string
	Title             string
	Content           string
	Variables         string
	RecipientGroupIDs []int64
	RecipientIDs      []int64
	RateLimit         int
	Status            int
}

func (t Template) Enabled() bool { return t.Status == StatusEnabled }

type Channel struct {
	ID         int64
	Name       string
	Type       ChannelType
	Provider   string
	ConfigJSON string
	Status     int
}

func (c Channel) Enabled() bool { return c.Status == StatusEnabled }

type Recipient struct {
	ID     int64
	Name   string
	Mobile string
	Email  string
	// UserID holds a JSON object of per-platform user ids keyed by channel type.
	UserID string
	Status int
}

type Batch struct {
	ID            int64
	BatchNo       string
	AppID         int64
	TemplateID    int64
	TemplateName  string
	ChannelID     int64
	ChannelName   string
	MsgType       int
	Title         string
	Content       string
	ContentParams string
	TotalCount    int
	SuccessCount  int
	FailCount     int
	Status        BatchStatus
	CreatedAt     time.Time
}

type Detail struct {
	ID              int64
	BatchID         int64
	Recipient       string
	RecipientName   string
	Content         string
	Status          DetailStatus
	ThirdPartyMsgID string
	ErrorMsg        string
	RetryCount      int
	SendTime        time.Time
	DeliveryStatus  string
	CreatedAt       time.Time
}

// SendRequest is the caller-facing send contract and is carried verbatim on the queue.
type SendRequest struct {
	AppID        int64          `json:"appId"`
	TemplateCode string         `json:"templateCode"`
	Recipients   []string       `json:"recipients"`
	Params       map[string]any `json:"params"`
	BizID        string         `json:"bizId,omitempty"`
}

func (r SendRequest) Validate() error {
	if r.TemplateCode == "" {
		return ErrInvalidRequest
	}
	return nil
}

type QueueJob struct {
	BatchID        int64             `json:"batchId"`
	Request        SendRequest       `json:"request"`
	RecipientNames map[string]string `json:"recipientNames"`
}

type ShortLink struct {
	ID          int64
	ShortCode   string
	OriginalURL string
	CreatedBy   int64
	ClickCount  int64
	Status      int
	ExpireAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (l ShortLink) Expired(now time.Time) bool {
	return l.ExpireAt != nil && l.ExpireAt.Before(now)
}

type BlacklistEntry struct {
	ID        int64
	IP        string
	Reason    string
	ExpireAt  *time.Time
	CreatedAt time.Time
}

type AccessLog struct {
	ID         int64
	ShortCode  string
	IP         string
	UserAgent  string
	Referer    string
	AccessTime time.Time
}
