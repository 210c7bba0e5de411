// Package blacklist guards the redirect path with a persistent, cached IP denylist
// that escalates repeated rate-limit violations into bans.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"notifgw/internal/cache"
	"notifgw/internal/domain"
	"notifgw/internal/observability"
)

type Store interface {
	IsIPBlacklisted(ctx context.Context, ip string, now time.Time) (bool, error)
	ReplaceBlacklistEntry(ctx context.Context, e domain.BlacklistEntry) error
	DeleteBlacklistEntry(ctx context.Context, ip string) (bool, error)
}

type Config struct {
	AutoBanEnabled bool
	Threshold      int
	BanDuration    time.Duration
	ViolationTTL   time.Duration
	CacheTTL       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 10
	}
	if c.ViolationTTL <= 0 {
		c.ViolationTTL = 10 * time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

type Guard struct {
	cache *cache.Cache
	keys  cache.Keys
	store Store
	cfg   Config
	now   func() time.Time
}

func New(c *cache.Cache, keys cache.Keys, store Store, cfg Config) *Guard {
	return &Guard{cache: c, keys: keys, store: store, cfg: cfg.withDefaults(), now: time.Now}
}

// Bannable reports whether ip identifies a client at all.
func Bannable(ip string) bool {
	ip = strings.TrimSpace(ip)
	return ip != "" && !strings.EqualFold(ip, "unknown")
}

// IsBlacklisted answers from the cached flag when present and falls back to the store,
// caching either answer. Any cache or store failure allows the request.
func (g *Guard) IsBlacklisted(ctx context.Context, ip string) bool {
	if !Bannable(ip) {
		return false
	}
	key := g.keys.Blacklist(ip)

	v, err := g.cache.Get(ctx, key)
	switch {
	case err == nil:
		return v == "1"
	case !errors.Is(err, cache.ErrMiss):
		g.failOpen("blacklist_cache", ip, err)
		return false
	}

	banned, err := g.store.IsIPBlacklisted(ctx, ip, g.now())
	if err != nil {
		g.failOpen("blacklist_store", ip, err)
		return false
	}
	flag := "0"
	if banned {
		flag = "1"
	}
	if err := g.cache.Set(ctx, key, flag, g.cfg.CacheTTL); err != nil {
		slog.Warn("blacklist cache write failed", "ip", ip, "err", err)
	}
	return banned
}

// RecordViolation counts a rate-limit violation and bans ip once the threshold is reached.
func (g *Guard) RecordViolation(ctx context.Context, ip string) {
	if !Bannable(ip) {
		return
	}
	key := g.keys.Violation(ip)
	n, err := g.cache.IncrWithExpire(ctx, key, g.cfg.ViolationTTL)
	if err != nil {
		slog.Warn("record violation failed", "ip", ip, "err", err)
		return
	}
	if !g.cfg.AutoBanEnabled || n < int64(g.cfg.Threshold) {
		return
	}

	reason := fmt.Sprintf("auto ban: %d rate limit violations", n)
	if err := g.Ban(ctx, ip, reason, g.cfg.BanDuration); err != nil {
		slog.Error("auto ban failed", "ip", ip, "err", err)
		return
	}
	if err := g.cache.Delete(ctx, key); err != nil {
		slog.Warn("reset violation counter failed", "ip", ip, "err", err)
	}
	slog.Warn("ip auto banned", "ip", ip, "violations", n, "duration", g.cfg.BanDuration)
}

// Ban replaces any entry for ip. A non-positive duration bans permanently.
func (g *Guard) Ban(ctx context.Context, ip, reason string, duration time.Duration) error {
	if !Bannable(ip) {
		return fmt.Errorf("ban: invalid ip %q", ip)
	}
	now := g.now()
	entry := domain.BlacklistEntry{IP: ip, Reason: reason, CreatedAt: now}
	if duration > 0 {
		exp := now.Add(duration)
		entry.ExpireAt = &exp
	}
	if err := g.store.ReplaceBlacklistEntry(ctx, entry); err != nil {
		return fmt.Errorf("ban %s: %w", ip, err)
	}
	if err := g.cache.Set(ctx, g.keys.Blacklist(ip), "1", duration); err != nil {
		slog.Warn("blacklist cache prime failed", "ip", ip, "err", err)
	}
	return nil
}

func (g *Guard) Unban(ctx context.Context, ip string) (bool, error) {
	removed, err := g.store.DeleteBlacklistEntry(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("unban %s: %w", ip, err)
	}
	if err := g.cache.Delete(ctx, g.keys.Blacklist(ip), g.keys.Violation(ip)); err != nil {
		slog.Warn("blacklist cache evict failed", "ip", ip, "err", err)
	}
	return removed, nil
}

func (g *Guard) failOpen(check, ip string, err error) {
	observability.FailOpen.WithLabelValues(check).Inc()
	slog.Warn("blacklist check failed, allowing", "check", check, "ip", ip, "err", err)
}
