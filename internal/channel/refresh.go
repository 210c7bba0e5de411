package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RefreshBus announces channel configuration changes over Redis pub/sub.
type RefreshBus struct {
	rdb   redis.UniversalClient
	topic string
}

func NewRefreshBus(rdb redis.UniversalClient, topic string) *RefreshBus {
	return &RefreshBus{rdb: rdb, topic: topic}
}

func (b *RefreshBus) Publish(ctx context.Context, channelID int64) error {
	if err := b.rdb.Publish(ctx, b.topic, strconv.FormatInt(channelID, 10)).Err(); err != nil {
		return fmt.Errorf("publish channel refresh %d: %w", channelID, err)
	}
	return nil
}

// Listen invalidates inv for every announced channel id until ctx is cancelled.
// ready, when non-nil, is closed once the subscription is active.
func (b *RefreshBus) Listen(ctx context.Context, inv Invalidator, ready chan<- struct{}) error {
	sub := b.rdb.Subscribe(ctx, b.topic)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}
	if ready != nil {
		close(ready)
	}
	slog.Info("channel refresh listener started", "topic", b.topic)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			id, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				slog.Warn("ignoring malformed channel refresh", "payload", msg.Payload)
				continue
			}
			inv.Invalidate(id)
		}
	}
}
