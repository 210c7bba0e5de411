package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"notifgw/internal/backoff"
	"notifgw/internal/domain"
	"notifgw/internal/queue"
	"notifgw/internal/workerpool"
)

const requeueTimeout = 5 * time.Second

// Poller is the single dequeue loop feeding the pool.
type Poller struct {
	Queue   queue.Queue
	Pool    *workerpool.Pool
	Timeout time.Duration
	Handle  func(ctx context.Context, job domain.QueueJob)

	// ErrorDelay is the pause after a failed pop.
	ErrorDelay time.Duration
}

// Run polls until ctx is cancelled. Overflow handling is the pool's policy.
func (p *Poller) Run(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	delay := p.ErrorDelay
	if delay <= 0 {
		delay = time.Second
	}
	slog.Info("poller started", "timeout", timeout)
	defer slog.Info("poller stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := p.Queue.Pop(ctx, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("queue pop failed", "err", err)
			_ = backoff.Wait(ctx, delay)
			continue
		}
		if job == nil {
			continue
		}

		j := *job
		err = p.Pool.Submit(ctx, func(tctx context.Context) { p.Handle(tctx, j) })
		if err == nil {
			continue
		}
		// The job is already off the queue; hand it back before doing anything else.
		p.requeue(ctx, j, err)
		if errors.Is(err, workerpool.ErrClosed) || ctx.Err() != nil {
			return nil
		}
		_ = backoff.Wait(ctx, delay)
	}
}

func (p *Poller) requeue(ctx context.Context, j domain.QueueJob, cause error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()
	if err := p.Queue.Push(pctx, j); err != nil {
		slog.Error("job lost: submit and requeue both failed", "batch_id", j.BatchID, "submit_err", cause, "err", err)
		return
	}
	slog.Warn("job requeued", "batch_id", j.BatchID, "reason", cause)
}
