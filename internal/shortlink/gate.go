package shortlink

import (
	"context"
	"time"

	"notifgw/internal/cache"
	"notifgw/internal/ratelimit"
)

type Verdict int

const (
	Allowed Verdict = iota
	Blacklisted
	IPLimited
	GlobalLimited
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Blacklisted:
		return "blacklisted"
	case IPLimited:
		return "ip_limited"
	case GlobalLimited:
		return "global_limited"
	default:
		return "unknown"
	}
}

// Guard is the subset of the blacklist guard the gate consults.
type Guard interface {
	IsBlacklisted(ctx context.Context, ip string) bool
	RecordViolation(ctx context.Context, ip string)
}

type GateConfig struct {
	RateLimitEnabled bool
	IPPerMinute      int
	GlobalPerMinute  int
}

// Gate applies redirect traffic control: blacklist, then per-IP limit, then global limit.
type Gate struct {
	limiter ratelimit.Limiter
	guard   Guard
	keys    cache.Keys
	cfg     GateConfig
	window  time.Duration
}

func NewGate(limiter ratelimit.Limiter, guard Guard, keys cache.Keys, cfg GateConfig) *Gate {
	if cfg.IPPerMinute <= 0 {
		cfg.IPPerMinute = 100
	}
	if cfg.GlobalPerMinute <= 0 {
		cfg.GlobalPerMinute = 10000
	}
	return &Gate{limiter: limiter, guard: guard, keys: keys, cfg: cfg, window: time.Minute}
}

func (g *Gate) CheckIPLimit(ctx context.Context, ip string) bool {
	return g.limiter.Allow(ctx, g.keys.IPLimit(ip), g.cfg.IPPerMinute, g.window)
}

func (g *Gate) CheckGlobalLimit(ctx context.Context) bool {
	return g.limiter.Allow(ctx, g.keys.GlobalLimit(), g.cfg.GlobalPerMinute, g.window)
}

// Admit decides whether ip may be redirected. A per-IP rejection counts as a violation
// toward auto-ban; a global rejection does not.
func (g *Gate) Admit(ctx context.Context, ip string) Verdict {
	if g.guard.IsBlacklisted(ctx, ip) {
		return Blacklisted
	}
	if !g.cfg.RateLimitEnabled {
		return Allowed
	}
	if !g.CheckIPLimit(ctx, ip) {
		g.guard.RecordViolation(ctx, ip)
		return IPLimited
	}
	if !g.CheckGlobalLimit(ctx) {
		return GlobalLimited
	}
	return Allowed
}
