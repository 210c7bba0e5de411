package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearDelay(t *testing.T) {
	l := Linear{Step: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, l.Delay(1))
	assert.Equal(t, 300*time.Millisecond, l.Delay(3))

	capped := Linear{Step: time.Second, Max: 2 * time.Second}
	assert.Equal(t, 2*time.Second, capped.Delay(5))
}

func TestExponentialDelay(t *testing.T) {
	e := Exponential{Initial: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, e.Delay(1))
	assert.Equal(t, 400*time.Millisecond, e.Delay(3))
	assert.Equal(t, time.Second, e.Delay(10))
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, Constant{}, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		if attempt < 2 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryHonoursNonRetryable(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), 3, Constant{}, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryReturnsLastErrorAfterExhaustion(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, Constant{Interval: time.Millisecond}, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return true, errors.New("still failing")
	})
	assert.EqualError(t, err, "still failing")
	assert.Equal(t, 3, calls)
}

func TestRetryAbortsWaitOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	calls := 0
	err := Retry(ctx, 3, Constant{Interval: time.Hour}, func(ctx context.Context, attempt int) (bool, error) {
		calls++
		return true, errors.New("transient")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}
