// Package queue defines the hand-off between admission and the batch workers.
package queue

import (
	"context"
	"time"

	"notifgw/internal/domain"
)

// Queue carries batch jobs. Pop returns a nil job when timeout elapses with nothing to read.
type Queue interface {
	Push(ctx context.Context, job domain.QueueJob) error
	Pop(ctx context.Context, timeout time.Duration) (*domain.QueueJob, error)
}
