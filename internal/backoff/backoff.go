// Package backoff provides retry delay strategies and a context-aware retry loop.
package backoff

import (
	"context"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.Interval }

// Linear waits Step * attempt, capped at Max when Max > 0.
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	d := l.Step * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// Exponential doubles from Initial each attempt, capped at Max when Max > 0.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial << (attempt - 1)
	if d <= 0 || (e.Max > 0 && d > e.Max) {
		return e.Max
	}
	return d
}

// Default is the linear 100ms-per-attempt schedule used for cache and provider retries.
var Default Strategy = Linear{Step: 100 * time.Millisecond}

const DefaultAttempts = 3

// Op is one attempt. Returning retry=false stops the loop with err.
type Op func(ctx context.Context, attempt int) (retry bool, err error)

// Retry runs op up to attempts times. Between attempts it waits on a timer rather
// than sleeping, so a cancelled ctx releases the caller immediately.
func Retry(ctx context.Context, attempts int, s Strategy, op Op) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var retry bool
		retry, err = op(ctx, attempt)
		if err == nil || !retry || attempt == attempts {
			return err
		}
		if werr := Wait(ctx, s.Delay(attempt)); werr != nil {
			return err
		}
	}
	return err
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
