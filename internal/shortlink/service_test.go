package shortlink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifgw/internal/cache"
	"notifgw/internal/domain"
	"notifgw/internal/store"
)

type memStore struct {
	mu        sync.Mutex
	links     map[string]domain.ShortLink
	gets      int
	dupOnce   bool
	access    []domain.AccessLog
	storeDown bool
}

func newMemStore() *memStore { return &memStore{links: map[string]domain.ShortLink{}} }

func (m *memStore) GetShortLink(_ context.Context, code string) (domain.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.storeDown {
		return domain.ShortLink{}, errors.New("connection refused")
	}
	l, ok := m.links[code]
	if !ok {
		return domain.ShortLink{}, store.ErrNotFound
	}
	return l, nil
}

func (m *memStore) FindActiveShortLinkByURL(_ context.Context, url string) (domain.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.OriginalURL == url && l.Status == domain.StatusEnabled {
			return l, nil
		}
	}
	return domain.ShortLink{}, store.ErrNotFound
}

func (m *memStore) ShortCodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[code]
	return ok, nil
}

func (m *memStore) InsertShortLink(_ context.Context, l *domain.ShortLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dupOnce {
		m.dupOnce = false
		return errors.Join(store.ErrDuplicate, errors.New("unique violation"))
	}
	if _, ok := m.links[l.ShortCode]; ok {
		return store.ErrDuplicate
	}
	l.ID = int64(len(m.links) + 1)
	m.links[l.ShortCode] = *l
	return nil
}

func (m *memStore) SetShortLinkStatus(_ context.Context, code string, status int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[code]
	if !ok {
		return false, nil
	}
	l.Status = status
	m.links[code] = l
	return true, nil
}

func (m *memStore) DeleteShortLink(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[code]
	delete(m.links, code)
	return ok, nil
}

func (m *memStore) RecordAccess(_ context.Context, a domain.AccessLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.links[a.ShortCode]
	l.ClickCount++
	m.links[a.ShortCode] = l
	m.access = append(m.access, a)
	return nil
}

func (m *memStore) CountAccessSince(_ context.Context, code string, since time.Time) (int64, error) {
	var n int64
	for _, a := range m.access {
		if a.ShortCode == code && !a.AccessTime.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) RecentAccess(_ context.Context, code string, limit int) ([]domain.AccessLog, error) {
	var out []domain.AccessLog
	for i := len(m.access) - 1; i >= 0 && len(out) < limit; i-- {
		if m.access[i].ShortCode == code {
			out = append(out, m.access[i])
		}
	}
	return out, nil
}

func newService(t *testing.T, st *memStore) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	svc := New(st, cache.New(rdb), cache.NewKeys("ns"), nil, Config{Domain: "https://s.example/", CodeLength: 6})
	return svc, mr
}

func TestValidURL(t *testing.T) {
	for _, u := range []string{"http://example.com", "https://a.b.example.com:8443/x/y?z=1&w=2#frag", "HTTP://localhost/path"} {
		assert.True(t, ValidURL(u), u)
	}
	for _, u := range []string{"", "example.com", "ftp://example.com", "javascript:alert(1)", "https://exa mple.com"} {
		assert.False(t, ValidURL(u), u)
	}
}

func TestSafeRedirect(t *testing.T) {
	assert.True(t, SafeRedirect("https://example.com/a"))
	assert.True(t, SafeRedirect("HTTP://example.com"))
	assert.False(t, SafeRedirect("javascript:alert(1)"))
	assert.False(t, SafeRedirect("//example.com"))
	assert.False(t, SafeRedirect("https://example.com/?next=data:text/html,x"))
	assert.False(t, SafeRedirect("http://example.com/vbscript:x"))
}

func TestCreateGeneratesCodeAndCaches(t *testing.T) {
	st := newMemStore()
	svc, mr := newService(t, st)

	link, err := svc.Create(context.Background(), CreateRequest{URL: "https://example.com/a", CreatedBy: 7})
	require.NoError(t, err)
	assert.Len(t, link.ShortCode, 6)
	assert.Equal(t, "https://s.example/s/"+link.ShortCode, link.ShortURL)
	assert.Nil(t, link.ExpireAt)
	assert.Equal(t, domain.StatusEnabled, link.Status)

	v, err := mr.Get("ns:short-url:" + link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", v)
	assert.Equal(t, 24*time.Hour, mr.TTL("ns:short-url:"+link.ShortCode))
}

func TestCreateReusesActiveLink(t *testing.T) {
	st := newMemStore()
	svc, _ := newService(t, st)

	first, err := svc.Create(context.Background(), CreateRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), CreateRequest{URL: "https://example.com/a", CustomCode: "other1"})
	require.NoError(t, err)
	assert.Equal(t, first.ShortCode, second.ShortCode)
	assert.Len(t, st.links, 1)
}

func TestCreateRejections(t *testing.T) {
	st := newMemStore()
	st.links["taken1"] = domain.ShortLink{ShortCode: "taken1", OriginalURL: "https://x.example", Status: domain.StatusDisabled}
	svc, _ := newService(t, st)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{URL: "notaurl"})
	assert.ErrorIs(t, err, ErrInvalidURL)
	_, err = svc.Create(ctx, CreateRequest{URL: "https://example.com", CustomCode: "ab"})
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = svc.Create(ctx, CreateRequest{URL: "https://example.com", CustomCode: "taken1"})
	assert.ErrorIs(t, err, ErrCodeTaken)
}

func TestCreateCustomCodeWithTTL(t *testing.T) {
	st := newMemStore()
	svc, mr := newService(t, st)
	now := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ttl := int64(120)

	link, err := svc.Create(context.Background(), CreateRequest{URL: "https://example.com", CustomCode: " Promo1 ", TTL: &ttl})
	require.NoError(t, err)
	assert.Equal(t, "Promo1", link.ShortCode)
	require.NotNil(t, link.ExpireAt)
	assert.Equal(t, now.Add(2*time.Minute), *link.ExpireAt)
	assert.Equal(t, 2*time.Minute, mr.TTL("ns:short-url:Promo1"))
}

func TestCreateRetriesOnceOnInsertCollision(t *testing.T) {
	st := newMemStore()
	st.dupOnce = true
	svc, _ := newService(t, st)

	link, err := svc.Create(context.Background(), CreateRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Contains(t, st.links, link.ShortCode)
}

func TestResolveNegativeCaching(t *testing.T) {
	st := newMemStore()
	svc, mr := newService(t, st)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Resolve(ctx, "nope1")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 1, st.gets)
	v, _ := mr.Get("ns:short-url:nope1")
	assert.Equal(t, cache.Negative, v)
	assert.Equal(t, 5*time.Minute, mr.TTL("ns:short-url:nope1"))

	_, err := svc.Resolve(ctx, "bad!")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, st.gets, "malformed codes never reach the store")
}

func TestResolveHitsCacheAfterFirstLookup(t *testing.T) {
	st := newMemStore()
	st.links["abcd12"] = domain.ShortLink{ShortCode: "abcd12", OriginalURL: "https://example.com", Status: domain.StatusEnabled}
	svc, _ := newService(t, st)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		u, err := svc.Resolve(ctx, "abcd12")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", u)
	}
	assert.Equal(t, 1, st.gets)
}

func TestResolveDisabledAndExpired(t *testing.T) {
	st := newMemStore()
	past := time.Now().Add(-time.Hour)
	st.links["off001"] = domain.ShortLink{ShortCode: "off001", OriginalURL: "https://a.example", Status: domain.StatusDisabled}
	st.links["old001"] = domain.ShortLink{ShortCode: "old001", OriginalURL: "https://b.example", Status: domain.StatusEnabled, ExpireAt: &past}
	svc, _ := newService(t, st)

	for _, code := range []string{"off001", "old001"} {
		_, err := svc.Resolve(context.Background(), code)
		assert.ErrorIs(t, err, ErrNotFound, code)
	}
}

func TestResolveFallsBackToStoreWhenCacheDown(t *testing.T) {
	st := newMemStore()
	st.links["abcd12"] = domain.ShortLink{ShortCode: "abcd12", OriginalURL: "https://example.com", Status: domain.StatusEnabled}
	svc, mr := newService(t, st)
	mr.Close()

	u, err := svc.Resolve(context.Background(), "abcd12")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", u)
}

func TestResolveStoreErrorIsNotCached(t *testing.T) {
	st := newMemStore()
	st.storeDown = true
	svc, mr := newService(t, st)

	_, err := svc.Resolve(context.Background(), "abcd12")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("ns:short-url:abcd12"))
}

func TestDisableAndDeleteEvictCache(t *testing.T) {
	st := newMemStore()
	svc, mr := newService(t, st)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.True(t, mr.Exists("ns:short-url:"+link.ShortCode))

	require.NoError(t, svc.Disable(ctx, link.ShortCode))
	assert.False(t, mr.Exists("ns:short-url:"+link.ShortCode))
	_, err = svc.Resolve(ctx, link.ShortCode)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Delete(ctx, link.ShortCode))
	assert.ErrorIs(t, svc.Delete(ctx, link.ShortCode), ErrNotFound)
	assert.ErrorIs(t, svc.Disable(ctx, "gone01"), ErrNotFound)
}

func TestRecordAccessAndStats(t *testing.T) {
	st := newMemStore()
	st.links["abcd12"] = domain.ShortLink{ShortCode: "abcd12", OriginalURL: "https://example.com", Status: domain.StatusEnabled}
	svc, _ := newService(t, st)
	ctx := context.Background()

	longUA := strings.Repeat("u", 700)
	svc.RecordAccess(ctx, "abcd12", "10.0.0.1", longUA, "https://ref.example")
	svc.RecordAccess(ctx, "abcd12", "10.0.0.2", "curl", "")

	require.Len(t, st.access, 2)
	assert.Len(t, st.access[0].UserAgent, 500)

	stats, err := svc.Stats(ctx, "abcd12")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalClicks)
	assert.EqualValues(t, 2, stats.TodayClicks)
	require.Len(t, stats.RecentAccess, 2)
	assert.Equal(t, "10.0.0.2", stats.RecentAccess[0].IP)

	_, err = svc.Stats(ctx, "none01")
	assert.ErrorIs(t, err, ErrNotFound)
}
