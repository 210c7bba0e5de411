package blacklist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifgw/internal/cache"
	"notifgw/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]domain.BlacklistEntry
	queries int
	err     error
}

func newFakeStore() *fakeStore { return &fakeStore{entries: map[string]domain.BlacklistEntry{}} }

func (f *fakeStore) IsIPBlacklisted(_ context.Context, ip string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return false, f.err
	}
	e, ok := f.entries[ip]
	return ok && (e.ExpireAt == nil || e.ExpireAt.After(now)), nil
}

func (f *fakeStore) ReplaceBlacklistEntry(_ context.Context, e domain.BlacklistEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.IP] = e
	return nil
}

func (f *fakeStore) DeleteBlacklistEntry(_ context.Context, ip string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[ip]
	delete(f.entries, ip)
	return ok, nil
}

func newGuard(t *testing.T, cfg Config) (*Guard, *fakeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := newFakeStore()
	return New(cache.New(rdb), cache.NewKeys("t"), st, cfg), st, mr
}

func TestIsBlacklistedCachesBothAnswers(t *testing.T) {
	ctx := context.Background()
	g, st, mr := newGuard(t, Config{})

	assert.False(t, g.IsBlacklisted(ctx, "10.0.0.1"))
	assert.False(t, g.IsBlacklisted(ctx, "10.0.0.1"))
	assert.Equal(t, 1, st.queries, "cached false answers the second call")
	v, _ := mr.Get("t:short-url:blacklist:10.0.0.1")
	assert.Equal(t, "0", v)
	assert.Equal(t, 5*time.Minute, mr.TTL("t:short-url:blacklist:10.0.0.1"))

	st.entries["10.0.0.2"] = domain.BlacklistEntry{IP: "10.0.0.2"}
	assert.True(t, g.IsBlacklisted(ctx, "10.0.0.2"))
	assert.True(t, g.IsBlacklisted(ctx, "10.0.0.2"))
	assert.Equal(t, 2, st.queries)
}

func TestUnknownIPsAreNeverBlacklisted(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newGuard(t, Config{AutoBanEnabled: true, Threshold: 1})
	for _, ip := range []string{"", "unknown", "UNKNOWN"} {
		g.RecordViolation(ctx, ip)
		assert.False(t, g.IsBlacklisted(ctx, ip))
	}
	assert.Empty(t, st.entries)
	assert.Zero(t, st.queries)
}

func TestAutoBanAtThreshold(t *testing.T) {
	ctx := context.Background()
	g, st, mr := newGuard(t, Config{AutoBanEnabled: true, Threshold: 3, BanDuration: time.Hour})

	g.RecordViolation(ctx, "1.1.1.1")
	g.RecordViolation(ctx, "1.1.1.1")
	assert.Empty(t, st.entries, "one fewer than threshold does not ban")
	assert.Equal(t, 10*time.Minute, mr.TTL("t:short-url:violation:1.1.1.1"))

	g.RecordViolation(ctx, "1.1.1.1")
	require.Contains(t, st.entries, "1.1.1.1")
	require.NotNil(t, st.entries["1.1.1.1"].ExpireAt)
	assert.False(t, mr.Exists("t:short-url:violation:1.1.1.1"), "counter reset after ban")
	assert.Equal(t, time.Hour, mr.TTL("t:short-url:blacklist:1.1.1.1"))
	assert.True(t, g.IsBlacklisted(ctx, "1.1.1.1"))
	assert.Zero(t, st.queries, "ban primes the cache")
}

func TestAutoBanDisabledOnlyCounts(t *testing.T) {
	ctx := context.Background()
	g, st, mr := newGuard(t, Config{AutoBanEnabled: false, Threshold: 2})
	for i := 0; i < 5; i++ {
		g.RecordViolation(ctx, "2.2.2.2")
	}
	assert.Empty(t, st.entries)
	v, _ := mr.Get("t:short-url:violation:2.2.2.2")
	assert.Equal(t, "5", v)
}

func TestPermanentBanHasNoExpiry(t *testing.T) {
	ctx := context.Background()
	g, st, mr := newGuard(t, Config{})
	require.NoError(t, g.Ban(ctx, "3.3.3.3", "manual", 0))
	assert.Nil(t, st.entries["3.3.3.3"].ExpireAt)
	assert.Zero(t, mr.TTL("t:short-url:blacklist:3.3.3.3"))

	removed, err := g.Unban(ctx, "3.3.3.3")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, g.IsBlacklisted(ctx, "3.3.3.3"))
}

func TestFailsOpenWhenStoreOrCacheDown(t *testing.T) {
	ctx := context.Background()
	g, st, mr := newGuard(t, Config{})
	st.err = errors.New("db down")
	assert.False(t, g.IsBlacklisted(ctx, "4.4.4.4"))

	st.err = nil
	st.entries["5.5.5.5"] = domain.BlacklistEntry{IP: "5.5.5.5"}
	mr.Close()
	assert.False(t, g.IsBlacklisted(ctx, "5.5.5.5"))
}
