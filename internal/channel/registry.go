package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"notifgw/internal/domain"
	"notifgw/internal/observability"
)

type GuardOptions struct {
	SendTimeout     time.Duration
	RPS             float64
	Burst           int
	BreakerFailures uint32
	BreakerOpen     time.Duration
	// LimiterWait bounds how long a send waits for a local token.
	LimiterWait time.Duration
}

func (o GuardOptions) withDefaults() GuardOptions {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 10
	}
	if o.BreakerOpen <= 0 {
		o.BreakerOpen = 20 * time.Second
	}
	if o.LimiterWait <= 0 {
		o.LimiterWait = 2 * time.Second
	}
	return o
}

// guard is the per-channel protection around a handler call.
type guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Registry routes deliveries to the handler for the channel type.
type Registry struct {
	handlers map[domain.ChannelType]Handler
	opts     GuardOptions

	mu     sync.Mutex
	guards map[int64]*guard
}

func NewRegistry(opts GuardOptions, handlers ...Handler) *Registry {
	r := &Registry{
		handlers: make(map[domain.ChannelType]Handler, len(handlers)),
		opts:     opts.withDefaults(),
		guards:   make(map[int64]*guard),
	}
	for _, h := range handlers {
		r.handlers[h.Type()] = h
	}
	return r
}

func (r *Registry) Supports(t domain.ChannelType) bool {
	_, ok := r.handlers[t]
	return ok
}

// Dispatch sends d through its channel's handler. It never panics and never returns
// an error: every failure, including a handler panic, becomes a failed Result.
func (r *Registry) Dispatch(ctx context.Context, d Delivery) (res Result) {
	typ := string(d.Channel.Type)
	h, ok := r.handlers[d.Channel.Type]
	if !ok {
		observability.ChannelSend.WithLabelValues(typ, "no_handler").Inc()
		return Fail(fmt.Errorf("%w: %s", domain.ErrHandlerNotFound, typ))
	}

	g := r.guardFor(d.Channel)
	if g.limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, r.opts.LimiterWait)
		err := g.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			observability.ChannelSend.WithLabelValues(typ, "rate_limited_local").Inc()
			return Failf("local rate limit: %v", err)
		}
	}

	start := time.Now()
	v, err := g.breaker.Execute(func() (any, error) {
		res := r.call(ctx, h, d)
		if !res.OK {
			return res, errors.New(res.Error)
		}
		return res, nil
	})
	observability.ChannelLatency.WithLabelValues(typ).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.ChannelSend.WithLabelValues(typ, "cb_open").Inc()
		return Failf("channel %d circuit open", d.Channel.ID)
	}
	res, _ = v.(Result)
	if res.OK {
		observability.ChannelSend.WithLabelValues(typ, "ok").Inc()
	} else {
		observability.ChannelSend.WithLabelValues(typ, "error").Inc()
	}
	return res
}

func (r *Registry) call(ctx context.Context, h Handler, d Delivery) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("channel handler panicked", "channel_id", d.Channel.ID, "channel_type", d.Channel.Type,
				"panic", p, "stack", string(debug.Stack()))
			res = Failf("handler panic: %v", p)
		}
	}()
	callCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
	defer cancel()
	return h.Send(callCtx, d)
}

func (r *Registry) guardFor(ch domain.Channel) *guard {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guards[ch.ID]; ok {
		return g
	}
	g := &guard{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    fmt.Sprintf("channel-%d", ch.ID),
			Timeout: r.opts.BreakerOpen,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= r.opts.BreakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("channel breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
	if r.opts.RPS > 0 {
		burst := r.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(r.opts.RPS), burst)
	}
	r.guards[ch.ID] = g
	return g
}

// Invalidate drops the guard and any cached provider client for the channel so the
// next send rebuilds them from fresh configuration.
func (r *Registry) Invalidate(channelID int64) {
	r.mu.Lock()
	delete(r.guards, channelID)
	r.mu.Unlock()
	for _, h := range r.handlers {
		if inv, ok := h.(Invalidator); ok {
			inv.Invalidate(channelID)
		}
	}
	slog.Info("channel clients invalidated", "channel_id", channelID)
}

// DefaultHandlers returns one handler per supported channel type.
func DefaultHandlers(hc *HTTPClient) []Handler {
	return []Handler{
		NewAliyunSMSHandler(),
		NewTencentSMSHandler(),
		NewTwilioHandler(hc),
		NewEmailHandler(),
		NewSlackHandler(hc),
		NewTelegramHandler(hc),
		NewWebhookHandler(hc),
		NewWeChatOfficialHandler(hc),
		NewWeChatWorkHandler(hc),
		NewDingTalkHandler(hc),
		NewFeishuHandler(hc),
	}
}
