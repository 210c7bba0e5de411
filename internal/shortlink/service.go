// Package shortlink creates and resolves short links and records their traffic.
package shortlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"notifgw/internal/cache"
	"notifgw/internal/domain"
	"notifgw/internal/shortcode"
	"notifgw/internal/store"
	"notifgw/internal/workerpool"
)

var (
	ErrInvalidURL  = errors.New("invalid url")
	ErrInvalidCode = errors.New("short code must be 4-10 letters or digits")
	ErrCodeTaken   = errors.New("short code already in use")
	ErrNotFound    = errors.New("short link not found")
)

var urlPattern = regexp.MustCompile(`(?i)^(https?://)([\w\-]+\.)*[\w\-]+(:\d+)?(/[\w\-./?%&=@#]*)?$`)

const (
	maxFieldLen   = 500
	recentLimit   = 10
	noExpiryTTL   = 24 * time.Hour
	recordTimeout = 5 * time.Second
)

type Store interface {
	GetShortLink(ctx context.Context, code string) (domain.ShortLink, error)
	FindActiveShortLinkByURL(ctx context.Context, url string) (domain.ShortLink, error)
	ShortCodeExists(ctx context.Context, code string) (bool, error)
	InsertShortLink(ctx context.Context, l *domain.ShortLink) error
	SetShortLinkStatus(ctx context.Context, code string, status int) (bool, error)
	DeleteShortLink(ctx context.Context, code string) (bool, error)
	RecordAccess(ctx context.Context, a domain.AccessLog) error
	CountAccessSince(ctx context.Context, code string, since time.Time) (int64, error)
	RecentAccess(ctx context.Context, code string, limit int) ([]domain.AccessLog, error)
}

type Config struct {
	Domain      string
	CodeLength  int
	DefaultTTL  time.Duration
	NegativeTTL time.Duration
}

type Service struct {
	store Store
	cache *cache.Cache
	keys  cache.Keys
	gen   *shortcode.Generator
	pool  *workerpool.Pool
	cfg   Config
	now   func() time.Time
}

// New wires the service. pool runs access recording off the request path and may be nil,
// in which case accesses are recorded synchronously.
func New(st Store, c *cache.Cache, keys cache.Keys, pool *workerpool.Pool, cfg Config) *Service {
	if cfg.CodeLength == 0 {
		cfg.CodeLength = 6
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 5 * time.Minute
	}
	cfg.Domain = strings.TrimSuffix(cfg.Domain, "/")
	return &Service{
		store: st,
		cache: c,
		keys:  keys,
		gen:   shortcode.NewGenerator(st.ShortCodeExists),
		pool:  pool,
		cfg:   cfg,
		now:   time.Now,
	}
}

type CreateRequest struct {
	URL        string `json:"url"`
	CustomCode string `json:"customCode"`
	// TTL in seconds; nil uses the configured default, 0 never expires.
	TTL       *int64 `json:"ttl"`
	CreatedBy int64  `json:"createdBy"`
}

type Link struct {
	ShortCode   string     `json:"shortCode"`
	ShortURL    string     `json:"shortUrl"`
	OriginalURL string     `json:"originalUrl"`
	ClickCount  int64      `json:"clickCount"`
	Status      int        `json:"status"`
	ExpireAt    *time.Time `json:"expireAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type AccessRecord struct {
	IP         string    `json:"ip"`
	UserAgent  string    `json:"userAgent"`
	AccessTime time.Time `json:"accessTime"`
}

type Stats struct {
	ShortCode    string         `json:"shortCode"`
	OriginalURL  string         `json:"originalUrl"`
	TotalClicks  int64          `json:"totalClicks"`
	TodayClicks  int64          `json:"todayClicks"`
	CreatedAt    time.Time      `json:"createdAt"`
	RecentAccess []AccessRecord `json:"recentAccess"`
}

// ValidURL reports whether u is an absolute http(s) URL of the accepted shape.
func ValidURL(u string) bool { return urlPattern.MatchString(u) }

// SafeRedirect rejects targets that are not plain http(s), even when they were persisted.
func SafeRedirect(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	for _, bad := range []string{"javascript:", "data:", "vbscript:"} {
		if strings.Contains(lower, bad) {
			return false
		}
	}
	return true
}

func (s *Service) ShortURL(code string) string { return s.cfg.Domain + "/s/" + code }

// Create returns the existing active link for the same URL when there is one.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Link, error) {
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" || !ValidURL(req.URL) {
		return Link{}, ErrInvalidURL
	}

	existing, err := s.store.FindActiveShortLinkByURL(ctx, req.URL)
	switch {
	case err == nil:
		return s.toLink(existing), nil
	case !errors.Is(err, store.ErrNotFound):
		return Link{}, fmt.Errorf("find existing link: %w", err)
	}

	custom := strings.TrimSpace(req.CustomCode)
	if custom != "" {
		if !shortcode.Valid(custom) {
			return Link{}, ErrInvalidCode
		}
		taken, err := s.store.ShortCodeExists(ctx, custom)
		if err != nil {
			return Link{}, fmt.Errorf("check short code: %w", err)
		}
		if taken {
			return Link{}, ErrCodeTaken
		}
	}

	link, err := s.insert(ctx, req, custom)
	if errors.Is(err, store.ErrDuplicate) && custom == "" {
		slog.Warn("short code collided on insert, regenerating", "url", req.URL)
		link, err = s.insert(ctx, req, "")
	}
	if errors.Is(err, store.ErrDuplicate) {
		return Link{}, ErrCodeTaken
	}
	if err != nil {
		return Link{}, err
	}

	s.cachePositive(ctx, link)
	return s.toLink(link), nil
}

func (s *Service) insert(ctx context.Context, req CreateRequest, code string) (domain.ShortLink, error) {
	if code == "" {
		var err error
		if code, err = s.gen.GenerateUniqueCode(ctx, s.cfg.CodeLength); err != nil {
			return domain.ShortLink{}, fmt.Errorf("generate short code: %w", err)
		}
	}
	now := s.now()
	link := domain.ShortLink{
		ShortCode:   code,
		OriginalURL: req.URL,
		CreatedBy:   req.CreatedBy,
		Status:      domain.StatusEnabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ttl := s.cfg.DefaultTTL
	if req.TTL != nil {
		ttl = time.Duration(*req.TTL) * time.Second
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		link.ExpireAt = &exp
	}
	if err := s.store.InsertShortLink(ctx, &link); err != nil {
		return domain.ShortLink{}, fmt.Errorf("insert short link %s: %w", code, err)
	}
	return link, nil
}

// Resolve returns the target URL for code. Unknown, disabled and expired codes are
// cached as negative entries so repeated misses do not reach the store.
func (s *Service) Resolve(ctx context.Context, code string) (string, error) {
	if !shortcode.Valid(code) {
		return "", ErrNotFound
	}
	key := s.keys.ShortURL(code)

	v, err := s.cache.Get(ctx, key)
	switch {
	case err == nil && v == cache.Negative:
		return "", ErrNotFound
	case err == nil:
		return v, nil
	case !errors.Is(err, cache.ErrMiss):
		slog.Warn("short link cache read failed, using store", "code", code, "err", err)
	}

	link, err := s.store.GetShortLink(ctx, code)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("get short link %s: %w", code, err)
	}
	if err != nil || link.Status != domain.StatusEnabled || link.Expired(s.now()) {
		if cerr := s.cache.SetNegative(ctx, key, s.cfg.NegativeTTL); cerr != nil {
			slog.Warn("short link negative cache write failed", "code", code, "err", cerr)
		}
		return "", ErrNotFound
	}
	s.cachePositive(ctx, link)
	return link.OriginalURL, nil
}

func (s *Service) cachePositive(ctx context.Context, l domain.ShortLink) {
	ttl := noExpiryTTL
	if l.ExpireAt != nil {
		ttl = l.ExpireAt.Sub(s.now())
		if ttl <= 0 {
			return
		}
	}
	if err := s.cache.Set(ctx, s.keys.ShortURL(l.ShortCode), l.OriginalURL, ttl); err != nil {
		slog.Warn("short link cache write failed", "code", l.ShortCode, "err", err)
	}
}

// RecordAccess counts a click and appends an access log row in the background.
// When the recording pool is saturated the access is dropped and logged.
func (s *Service) RecordAccess(ctx context.Context, code, ip, userAgent, referer string) {
	entry := domain.AccessLog{
		ShortCode:  code,
		IP:         ip,
		UserAgent:  truncate(userAgent, maxFieldLen),
		Referer:    truncate(referer, maxFieldLen),
		AccessTime: s.now(),
	}
	record := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, recordTimeout)
		defer cancel()
		if err := s.store.RecordAccess(ctx, entry); err != nil {
			slog.Error("record short link access failed", "code", code, "ip", ip, "err", err)
		}
	}
	if s.pool == nil {
		record(context.WithoutCancel(ctx))
		return
	}
	if err := s.pool.Submit(ctx, record); err != nil {
		slog.Warn("short link access not recorded", "code", code, "ip", ip, "err", err)
	}
}

func (s *Service) Stats(ctx context.Context, code string) (Stats, error) {
	if !shortcode.Valid(code) {
		return Stats{}, ErrNotFound
	}
	link, err := s.store.GetShortLink(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return Stats{}, ErrNotFound
	}
	if err != nil {
		return Stats{}, fmt.Errorf("get short link %s: %w", code, err)
	}

	now := s.now()
	y, m, d := now.Date()
	today, err := s.store.CountAccessSince(ctx, code, time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
	if err != nil {
		return Stats{}, fmt.Errorf("count today's clicks: %w", err)
	}
	logs, err := s.store.RecentAccess(ctx, code, recentLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("recent access: %w", err)
	}

	recent := make([]AccessRecord, 0, len(logs))
	for _, a := range logs {
		recent = append(recent, AccessRecord{IP: a.IP, UserAgent: a.UserAgent, AccessTime: a.AccessTime})
	}
	return Stats{
		ShortCode:    link.ShortCode,
		OriginalURL:  link.OriginalURL,
		TotalClicks:  link.ClickCount,
		TodayClicks:  today,
		CreatedAt:    link.CreatedAt,
		RecentAccess: recent,
	}, nil
}

func (s *Service) Disable(ctx context.Context, code string) error {
	ok, err := s.store.SetShortLinkStatus(ctx, code, domain.StatusDisabled)
	return s.evictIf(ctx, code, ok, err)
}

func (s *Service) Delete(ctx context.Context, code string) error {
	ok, err := s.store.DeleteShortLink(ctx, code)
	return s.evictIf(ctx, code, ok, err)
}

func (s *Service) evictIf(ctx context.Context, code string, changed bool, err error) error {
	if err != nil {
		return fmt.Errorf("update short link %s: %w", code, err)
	}
	if !changed {
		return ErrNotFound
	}
	if err := s.cache.Delete(ctx, s.keys.ShortURL(code)); err != nil {
		slog.Warn("short link cache evict failed", "code", code, "err", err)
	}
	return nil
}

func (s *Service) toLink(l domain.ShortLink) Link {
	return Link{
		ShortCode:   l.ShortCode,
		ShortURL:    s.ShortURL(l.ShortCode),
		OriginalURL: l.OriginalURL,
		ClickCount:  l.ClickCount,
		Status:      l.Status,
		ExpireAt:    l.ExpireAt,
		CreatedAt:   l.CreatedAt,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
