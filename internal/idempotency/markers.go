// Package idempotency sets short-lived existence markers used to deduplicate admission and processing.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

type Markers struct {
	cmd redis.Cmdable
	ttl time.Duration
}

func New(cmd redis.Cmdable, ttl time.Duration) *Markers {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Markers{cmd: cmd, ttl: ttl}
}

// Acquire sets key if absent. It reports false when the marker already exists.
// Cache errors are returned to the caller: markers fail closed.
func (m *Markers) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := m.cmd.SetNX(ctx, key, "1", m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire marker %s: %w", key, err)
	}
	return ok, nil
}
