// Package channel delivers rendered messages through third-party providers. Each
// channel type has one Handler; the Registry guards calls per channel with a local
// rate limiter and a circuit breaker.
package channel

import (
	"context"
	"fmt"
	"strings"

	"notifgw/internal/domain"
)

// Delivery is one message to one recipient.
type Delivery struct {
	Channel       domain.Channel
	Template      domain.Template
	Recipient     string
	RecipientName string
	Params        map[string]any
	// Content is the template body with Params substituted.
	Content string
}

// Result is the outcome of a send. Handlers never return errors; a failure is a Result.
type Result struct {
	OK    bool
	MsgID string
	Error string
	// Content, when set, replaces the rendered content recorded on the detail.
	Content string
}

func Ok(msgID string) Result { return Result{OK: true, MsgID: msgID} }

func Fail(err error) Result { return Result{Error: err.Error()} }

func Failf(format string, args ...any) Result { return Result{Error: fmt.Sprintf(format, args...)} }

func (r Result) withContent(content string) Result {
	r.Content = content
	return r
}

type Handler interface {
	Type() domain.ChannelType
	Send(ctx context.Context, d Delivery) Result
}

// Invalidator is implemented by handlers that cache per-channel provider clients.
type Invalidator interface {
	Invalidate(channelID int64)
}

// Render replaces every ${key} in content with the string form of params[key].
// Placeholders without a matching param are left as is.
func Render(content string, params map[string]any) string {
	if content == "" || len(params) == 0 {
		return content
	}
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "${"+k+"}", stringify(v))
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; print integers without a fraction.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}
