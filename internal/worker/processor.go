// Package worker is the consumer side of the send pipeline: a poller feeding a
// bounded pool that runs the batch processor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"notifgw/internal/backoff"
	"notifgw/internal/cache"
	"notifgw/internal/channel"
	"notifgw/internal/domain"
	"notifgw/internal/observability"
	"notifgw/internal/store"
)

const maxErrorLen = 500

// ErrAbandoned marks a batch left PENDING because a reference it needs is gone.
var ErrAbandoned = errors.New("batch abandoned")

type Store interface {
	GetBatch(ctx context.Context, id int64) (domain.Batch, error)
	GetTemplate(ctx context.Context, id int64) (domain.Template, error)
	GetChannel(ctx context.Context, id int64) (domain.Channel, error)
	InsertDetails(ctx context.Context, details []domain.Detail) error
	UpdateDetails(ctx context.Context, details []domain.Detail) error
	FinishBatch(ctx context.Context, id int64, success, fail int, status domain.BatchStatus) error
}

type Markers interface {
	Acquire(ctx context.Context, key string) (bool, error)
}

type Dispatcher interface {
	Supports(t domain.ChannelType) bool
	Dispatch(ctx context.Context, d channel.Delivery) channel.Result
}

type Processor struct {
	Store      Store
	Markers    Markers
	Dispatcher Dispatcher
	Keys       cache.Keys

	// Batch reload schedule for jobs popped before the admitting transaction committed.
	LoadAttempts int
	LoadBackoff  backoff.Strategy

	Now func() time.Time
}

// Process runs one batch end to end. A redelivered job is a no-op.
func (p *Processor) Process(ctx context.Context, job domain.QueueJob) error {
	log := slog.With("batch_id", job.BatchID)

	// 1) claim
	claimed, err := p.Markers.Acquire(ctx, p.Keys.BatchProcessing(job.BatchID))
	if err != nil {
		return fmt.Errorf("claim batch %d: %w", job.BatchID, err)
	}
	if !claimed {
		log.Info("batch already claimed, skipping")
		return nil
	}

	// 2) re-check status
	batch, err := p.loadBatch(ctx, job.BatchID)
	if err != nil {
		return fmt.Errorf("load batch %d: %w", job.BatchID, err)
	}
	if batch.Status != domain.BatchPending {
		log.Info("batch already finished, skipping", "status", batch.Status.String())
		return nil
	}

	// 3) references
	tpl, err := p.Store.GetTemplate(ctx, batch.TemplateID)
	if err != nil {
		log.Error("batch template unavailable, leaving pending", "template_id", batch.TemplateID, "err", err)
		return fmt.Errorf("%w: template %d: %v", ErrAbandoned, batch.TemplateID, err)
	}
	ch, err := p.Store.GetChannel(ctx, batch.ChannelID)
	if err != nil {
		log.Error("batch channel unavailable, leaving pending", "channel_id", batch.ChannelID, "err", err)
		return fmt.Errorf("%w: channel %d: %v", ErrAbandoned, batch.ChannelID, err)
	}
	if !p.Dispatcher.Supports(ch.Type) {
		log.Error("no handler for channel type, leaving pending", "channel_type", ch.Type)
		return fmt.Errorf("%w: %s", ErrAbandoned, domain.ErrHandlerNotFound)
	}
	// Deliver what was admitted, not what the template says now.
	tpl.Content, tpl.Title = batch.Content, batch.Title

	// Final writes must land even when shutdown cancels ctx mid-batch.
	persist := context.WithoutCancel(ctx)

	// 4) details
	params := job.Request.Params
	rendered := channel.Render(batch.Content, params)
	details := make([]domain.Detail, 0, len(job.Request.Recipients))
	now := p.now()
	for _, r := range job.Request.Recipients {
		details = append(details, domain.Detail{
			BatchID:       batch.ID,
			Recipient:     r,
			RecipientName: job.RecipientNames[r],
			Content:       rendered,
			Status:        domain.DetailSending,
			CreatedAt:     now,
		})
	}
	if err := p.Store.InsertDetails(persist, details); err != nil {
		log.Error("insert details failed, failing batch", "err", err)
		if ferr := p.Store.FinishBatch(persist, batch.ID, 0, 0, domain.BatchFail); ferr != nil {
			log.Error("mark batch failed", "err", ferr)
		}
		observability.Batches.WithLabelValues(domain.BatchFail.String()).Inc()
		return fmt.Errorf("insert details for batch %d: %w", batch.ID, err)
	}

	// 5) dispatch
	success, fail := 0, 0
	for i := range details {
		d := &details[i]
		res := p.dispatch(ctx, channel.Delivery{
			Channel:       ch,
			Template:      tpl,
			Recipient:     d.Recipient,
			RecipientName: d.RecipientName,
			Params:        params,
			Content:       rendered,
		})
		d.SendTime = p.now()
		if res.Content != "" {
			d.Content = res.Content
		}
		if res.OK {
			d.Status = domain.DetailSuccess
			d.ThirdPartyMsgID = res.MsgID
			success++
		} else {
			d.Status = domain.DetailFail
			d.ErrorMsg = truncate(res.Error, maxErrorLen)
			fail++
			log.Warn("delivery failed", "detail_id", d.ID, "recipient", d.Recipient, "err", d.ErrorMsg)
		}
	}

	// 6) aggregate
	if err := p.Store.UpdateDetails(persist, details); err != nil {
		return fmt.Errorf("update details for batch %d: %w", batch.ID, err)
	}
	status := domain.DeriveBatchStatus(success, fail)
	if err := p.Store.FinishBatch(persist, batch.ID, success, fail, status); err != nil {
		return fmt.Errorf("finish batch %d: %w", batch.ID, err)
	}
	observability.Batches.WithLabelValues(status.String()).Inc()
	log.Info("batch finished", "status", status.String(), "success", success, "fail", fail)
	return nil
}

// dispatch turns a panic escaping the dispatcher into a failed result.
func (p *Processor) dispatch(ctx context.Context, d channel.Delivery) (res channel.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch panicked", "recipient", d.Recipient, "panic", r, "stack", string(debug.Stack()))
			res = channel.Failf("%v", r)
		}
	}()
	return p.Dispatcher.Dispatch(ctx, d)
}

func (p *Processor) loadBatch(ctx context.Context, id int64) (domain.Batch, error) {
	attempts := p.LoadAttempts
	if attempts <= 0 {
		attempts = backoff.DefaultAttempts
	}
	strategy := p.LoadBackoff
	if strategy == nil {
		strategy = backoff.Default
	}
	var b domain.Batch
	err := backoff.Retry(ctx, attempts, strategy, func(ctx context.Context, _ int) (bool, error) {
		var err error
		b, err = p.Store.GetBatch(ctx, id)
		return errors.Is(err, store.ErrNotFound), err
	})
	return b, err
}

// Retry is the manual per-detail resend hook. Resending is not supported and it always reports false.
func (p *Processor) Retry(_ context.Context, detailID int64) bool {
	slog.Warn("manual detail retry requested but not supported", "detail_id", detailID)
	return false
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
