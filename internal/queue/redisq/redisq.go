// Package redisq is the list-backed queue: LPUSH on admission, BRPOP in the worker.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"notifgw/internal/domain"
	"notifgw/internal/observability"
)

type Queue struct {
	rdb redis.Cmdable
	key string
}

func New(rdb redis.Cmdable, key string) *Queue {
	return &Queue{rdb: rdb, key: key}
}

func (q *Queue) Push(ctx context.Context, job domain.QueueJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key, body).Err(); err != nil {
		observability.Enqueues.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	observability.Enqueues.WithLabelValues("redis", "ok").Inc()
	return nil
}

// Pop blocks up to timeout. Undecodable payloads are logged and discarded.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*domain.QueueJob, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP replies [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("brpop %s: unexpected reply length %d", q.key, len(res))
	}
	var job domain.QueueJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		slog.Error("discarding undecodable queue payload", "queue", q.key, "err", err)
		return nil, nil
	}
	return &job, nil
}
