// Package service holds the producer side of the send pipeline.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"notifgw/internal/cache"
	"notifgw/internal/domain"
	"notifgw/internal/observability"
	"notifgw/internal/queue"
	"notifgw/internal/ratelimit"
	"notifgw/internal/store"
)

// templateWindow is the fixed window for per-template rate limits, which are per second.
const templateWindow = time.Second

// ErrUnavailable wraps infrastructure failures (marker store, database, queue) seen during admission.
var ErrUnavailable = errors.New("dispatch: dependency unavailable")

type Store interface {
	GetTemplateByCode(ctx context.Context, code string) (domain.Template, error)
	GetChannel(ctx context.Context, id int64) (domain.Channel, error)
	ListRecipients(ctx context.Context, groupIDs, recipientIDs []int64) ([]domain.Recipient, error)
	CreateBatch(ctx context.Context, b domain.Batch, publish func(ctx context.Context, batchID int64) error) (int64, error)
}

type Markers interface {
	Acquire(ctx context.Context, key string) (bool, error)
}

// HandlerSet reports whether a channel type can be delivered.
type HandlerSet interface {
	Supports(t domain.ChannelType) bool
}

type Dispatcher struct {
	Store    Store
	Queue    queue.Queue
	Markers  Markers
	Limiter  ratelimit.Limiter
	Handlers HandlerSet
	Keys     cache.Keys
	Now      func() time.Time
}

// Send admits req and returns the new batch id. Every rejection wraps one of the
// domain admission errors; anything else wraps ErrUnavailable.
func (d *Dispatcher) Send(ctx context.Context, req domain.SendRequest) (int64, error) {
	id, err := d.send(ctx, req)
	switch {
	case err == nil:
		observability.Admissions.WithLabelValues("accepted").Inc()
	case domain.IsRejection(err):
		observability.Admissions.WithLabelValues(domain.Reason(err)).Inc()
		slog.Info("send rejected", "template", req.TemplateCode, "app_id", req.AppID, "biz_id", req.BizID, "reason", domain.Reason(err))
	default:
		observability.Admissions.WithLabelValues("error").Inc()
		slog.Error("send failed", "template", req.TemplateCode, "app_id", req.AppID, "err", err)
	}
	return id, err
}

func (d *Dispatcher) send(ctx context.Context, req domain.SendRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	params, err := json.Marshal(req.Params)
	if err != nil {
		return 0, fmt.Errorf("%w: params: %v", domain.ErrInvalidRequest, err)
	}

	// 1) idempotency
	if req.BizID != "" {
		ok, err := d.Markers.Acquire(ctx, d.Keys.Dedupe(req.AppID, req.BizID))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !ok {
			return 0, fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, req.BizID)
		}
	}

	// 2) template
	tpl, err := d.Store.GetTemplateByCode(ctx, req.TemplateCode)
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, req.TemplateCode)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: load template: %v", ErrUnavailable, err)
	}
	if !tpl.Enabled() {
		return 0, fmt.Errorf("%w: %s", domain.ErrTemplateDisabled, req.TemplateCode)
	}

	// 3) per-template rate limit
	if tpl.RateLimit > 0 && !d.Limiter.Allow(ctx, d.Keys.TemplateLimit(req.AppID, tpl.Code), tpl.RateLimit, templateWindow) {
		return 0, fmt.Errorf("%w: %s allows %d/s", domain.ErrRateLimited, tpl.Code, tpl.RateLimit)
	}

	// 4) channel
	ch, err := d.Store.GetChannel(ctx, tpl.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("%w: %d", domain.ErrChannelNotFound, tpl.ChannelID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: load channel: %v", ErrUnavailable, err)
	}
	if !ch.Enabled() {
		return 0, fmt.Errorf("%w: %d", domain.ErrChannelDisabled, ch.ID)
	}

	// 5) recipients
	contacts, names, err := d.resolveRecipients(ctx, req, tpl, ch.Type)
	if err != nil {
		return 0, err
	}
	if len(contacts) == 0 {
		return 0, domain.ErrNoRecipients
	}

	// 6) handler
	if !d.Handlers.Supports(ch.Type) {
		return 0, fmt.Errorf("%w: %s", domain.ErrHandlerNotFound, ch.Type)
	}

	// 7) batch + enqueue, atomically
	batch := domain.Batch{
		BatchNo:       ulid.Make().String(),
		AppID:         req.AppID,
		TemplateID:    tpl.ID,
		TemplateName:  tpl.Name,
		ChannelID:     ch.ID,
		ChannelName:   ch.Name,
		MsgType:       tpl.MsgType,
		Title:         tpl.Title,
		Content:       tpl.Content,
		ContentParams: string(params),
		TotalCount:    len(contacts),
		Status:        domain.BatchPending,
		CreatedAt:     d.now(),
	}
	jobReq := req
	jobReq.Recipients = contacts

	id, err := d.Store.CreateBatch(ctx, batch, func(ctx context.Context, batchID int64) error {
		return d.Queue.Push(ctx, domain.QueueJob{BatchID: batchID, Request: jobReq, RecipientNames: names})
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	slog.Info("batch accepted", "batch_id", id, "batch_no", batch.BatchNo, "template", tpl.Code,
		"channel_type", ch.Type, "recipients", len(contacts))
	return id, nil
}

// resolveRecipients returns the explicit contacts verbatim, or the contacts extracted from
// the template's groups and direct recipients along with their display names.
func (d *Dispatcher) resolveRecipients(ctx context.Context, req domain.SendRequest, tpl domain.Template, typ domain.ChannelType) ([]string, map[string]string, error) {
	if len(req.Recipients) > 0 {
		return req.Recipients, map[string]string{}, nil
	}
	if len(tpl.RecipientGroupIDs) == 0 && len(tpl.RecipientIDs) == 0 {
		return nil, nil, nil
	}
	rs, err := d.Store.ListRecipients(ctx, tpl.RecipientGroupIDs, tpl.RecipientIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load recipients: %v", ErrUnavailable, err)
	}
	contacts, names := ExtractContacts(rs, typ)
	return contacts, names, nil
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
