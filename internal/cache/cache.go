package cache

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"notifgw/internal/backoff"
)

// Negative is stored in place of a value the system of record does not have.
const Negative = "NULL"

var ErrMiss = errors.New("cache: miss")

// incrExpire sets the TTL whenever the counter has none, so a lost expiry heals on the next hit.
var incrExpire = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Cache wraps string operations with bounded retries on transient connection errors.
type Cache struct {
	cmd      redis.Cmdable
	attempts int
	strategy backoff.Strategy
}

func New(cmd redis.Cmdable) *Cache {
	return &Cache{cmd: cmd, attempts: backoff.DefaultAttempts, strategy: backoff.Default}
}

// Get returns ErrMiss when key does not exist.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := c.retry(ctx, func(ctx context.Context) error {
		v, err := c.cmd.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return out, err
}

// Set stores value; ttl <= 0 keeps the key without expiry.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.retry(ctx, func(ctx context.Context) error {
		return c.cmd.Set(ctx, key, value, ttl).Err()
	})
}

func (c *Cache) SetNegative(ctx context.Context, key string, ttl time.Duration) error {
	return c.Set(ctx, key, Negative, ttl)
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	return c.retry(ctx, func(ctx context.Context) error {
		return c.cmd.Del(ctx, keys...).Err()
	})
}

// IncrWithExpire increments key and sets ttl when the counter has no expiry yet,
// in one atomic script call. Not retried: a replayed INCR would double count.
func (c *Cache) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrExpire.Run(ctx, c.cmd, []string{key}, ttl.Milliseconds()).Int64()
}

func (c *Cache) retry(ctx context.Context, op func(ctx context.Context) error) error {
	return backoff.Retry(ctx, c.attempts, c.strategy, func(ctx context.Context, _ int) (bool, error) {
		err := op(ctx)
		return transient(err), err
	})
}

// transient reports connection-level failures worth another attempt.
func transient(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, io.EOF)
}
