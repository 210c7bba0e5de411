// Package ratelimit holds the Redis-backed admission limiters. Both limiters fail open:
// when the cache cannot be reached the request is allowed and a warning is logged.
package ratelimit

import (
	"context"
	_ "embed"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"notifgw/internal/observability"
)

var (
	//go:embed lua/fixed_window.lua
	fixedWindowLua string
	//go:embed lua/sliding_window.lua
	slidingWindowLua string

	fixedWindowScript   = redis.NewScript(fixedWindowLua)
	slidingWindowScript = redis.NewScript(slidingWindowLua)
)

// Limiter admits or rejects one event for key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

// FixedWindow counts events in a recurring slice with a single INCR + PEXPIRE.
type FixedWindow struct {
	cmd  redis.Scripter
	name string
}

func NewFixedWindow(cmd redis.Scripter, name string) *FixedWindow {
	return &FixedWindow{cmd: cmd, name: name}
}

func (l *FixedWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	ok, err := fixedWindowScript.Run(ctx, l.cmd, []string{key}, limit, window.Milliseconds()).Int()
	if err != nil {
		failOpen(l.name, key, err)
		return true
	}
	return ok == 1
}

// SlidingWindow trims a timestamp-scored set to the trailing window before counting.
type SlidingWindow struct {
	cmd  redis.Scripter
	name string
	now  func() time.Time
}

func NewSlidingWindow(cmd redis.Scripter, name string) *SlidingWindow {
	return &SlidingWindow{cmd: cmd, name: name, now: time.Now}
}

func (l *SlidingWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	ok, err := slidingWindowScript.Run(ctx, l.cmd, []string{key},
		l.now().UnixMilli(), window.Milliseconds(), limit, ulid.Make().String(),
	).Int()
	if err != nil {
		failOpen(l.name, key, err)
		return true
	}
	return ok == 1
}

func failOpen(check, key string, err error) {
	observability.FailOpen.WithLabelValues(check).Inc()
	slog.Warn("rate limit check failed, allowing", "check", check, "key", key, "err", err)
}
