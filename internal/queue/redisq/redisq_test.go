package redisq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifgw/internal/domain"
)

func newQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "ns:mq:send:queue"), mr, rdb
}

func TestPushPopFIFO(t *testing.T) {
	q, _, _ := newQueue(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, q.Push(ctx, domain.QueueJob{
			BatchID: id,
			Request: domain.SendRequest{TemplateCode: "T", Recipients: []string{"a"}},
		}))
	}
	for _, want := range []int64{1, 2, 3} {
		job, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.BatchID)
		assert.Equal(t, "T", job.Request.TemplateCode)
	}
}

func TestPopTimesOutWithNilJob(t *testing.T) {
	q, _, _ := newQueue(t)
	job, err := q.Pop(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestPopDiscardsGarbage(t *testing.T) {
	q, _, rdb := newQueue(t)
	ctx := context.Background()
	require.NoError(t, rdb.LPush(ctx, "ns:mq:send:queue", "{not json").Err())

	job, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestPushFailsWhenRedisDown(t *testing.T) {
	q, mr, _ := newQueue(t)
	mr.Close()
	err := q.Push(context.Background(), domain.QueueJob{BatchID: 1})
	assert.Error(t, err)
}
