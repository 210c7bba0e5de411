package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"notifgw/internal/observability"
	"notifgw/internal/shortcode"
	"notifgw/internal/shortlink"
)

type LinkService interface {
	Create(ctx context.Context, req shortlink.CreateRequest) (shortlink.Link, error)
	Resolve(ctx context.Context, code string) (string, error)
	RecordAccess(ctx context.Context, code, ip, userAgent, referer string)
	Stats(ctx context.Context, code string) (shortlink.Stats, error)
	Disable(ctx context.Context, code string) error
	Delete(ctx context.Context, code string) error
}

type TrafficGate interface {
	Admit(ctx context.Context, ip string) shortlink.Verdict
}

type ShortLinks struct {
	Links LinkService
	Gate  TrafficGate
}

func (s *ShortLinks) Register(m *mux.Router) {
	m.HandleFunc("/v1/short-urls", s.handleCreate).Methods(http.MethodPost)
	m.HandleFunc("/v1/short-urls/{code}/stats", s.handleStats).Methods(http.MethodGet)
	m.HandleFunc("/v1/short-urls/{code}/disable", s.handleDisable).Methods(http.MethodPost)
	m.HandleFunc("/v1/short-urls/{code}", s.handleDelete).Methods(http.MethodDelete)
	m.HandleFunc("/s/{code}", s.handleRedirect).Methods(http.MethodGet)
}

func (s *ShortLinks) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req shortlink.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", ErrInvalidJSON)
		return
	}
	link, err := s.Links.Create(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, link)
	case errors.Is(err, shortlink.ErrInvalidURL), errors.Is(err, shortlink.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, shortlink.ErrCodeTaken):
		writeError(w, http.StatusConflict, "CODE_TAKEN", err.Error())
	default:
		slog.Error("create short link failed", "url", req.URL, "err", err)
		writeError(w, http.StatusBadGateway, "INTERNAL", ErrDependency)
	}
}

func (s *ShortLinks) handleStats(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	stats, err := s.Links.Stats(r.Context(), code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, stats)
	case errors.Is(err, shortlink.ErrNotFound):
		http.Error(w, ErrNotFound, http.StatusNotFound)
	default:
		slog.Error("short link stats failed", "code", code, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
	}
}

func (s *ShortLinks) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "disable", s.Links.Disable)
}

func (s *ShortLinks) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "delete", s.Links.Delete)
}

func (s *ShortLinks) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) error) {
	code := mux.Vars(r)["code"]
	err := fn(r.Context(), code)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, shortlink.ErrNotFound):
		http.Error(w, ErrNotFound, http.StatusNotFound)
	default:
		slog.Error("short link "+op+" failed", "code", code, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
	}
}

const (
	pageNotFound   = `<!DOCTYPE html><html><head><title>404</title></head><body><h1>Link not found</h1><p>This short link does not exist or has expired.</p></body></html>`
	pageForbidden  = `<!DOCTYPE html><html><head><title>403</title></head><body><h1>Access denied</h1><p>Your address has been blocked.</p></body></html>`
	pageTooMany    = `<!DOCTYPE html><html><head><title>429</title></head><body><h1>Too many requests</h1><p>Please try again in a minute.</p></body></html>`
	retryAfterSecs = "60"
)

func (s *ShortLinks) handleRedirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := mux.Vars(r)["code"]
	if !shortcode.Valid(code) {
		s.page(w, http.StatusNotFound, pageNotFound, "invalid_code")
		return
	}

	ip := ClientIP(r)
	switch v := s.Gate.Admit(ctx, ip); v {
	case shortlink.Allowed:
	case shortlink.Blacklisted:
		slog.Warn("redirect blocked", "ip", ip, "code", code)
		w.Header().Set("Retry-After", retryAfterSecs)
		s.page(w, http.StatusForbidden, pageForbidden, v.String())
		return
	default:
		slog.Warn("redirect rate limited", "ip", ip, "code", code, "verdict", v.String())
		w.Header().Set("Retry-After", retryAfterSecs)
		s.page(w, http.StatusTooManyRequests, pageTooMany, v.String())
		return
	}

	target, err := s.Links.Resolve(ctx, code)
	if err != nil {
		if !errors.Is(err, shortlink.ErrNotFound) {
			slog.Error("short link resolve failed", "code", code, "err", err)
		}
		s.page(w, http.StatusNotFound, pageNotFound, "not_found")
		return
	}
	if !shortlink.SafeRedirect(target) {
		slog.Warn("unsafe redirect target refused", "code", code, "target", target)
		s.page(w, http.StatusNotFound, pageNotFound, "unsafe_target")
		return
	}

	s.Links.RecordAccess(ctx, code, ip, r.UserAgent(), r.Referer())
	observability.Redirects.WithLabelValues("redirected").Inc()
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *ShortLinks) page(w http.ResponseWriter, status int, body, result string) {
	observability.Redirects.WithLabelValues(result).Inc()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

var ipHeaders = []string{"X-Forwarded-For", "X-Real-IP", "Proxy-Client-IP", "WL-Proxy-Client-IP"}

// ClientIP prefers proxy headers, taking the first hop of X-Forwarded-For, and falls
// back to the connection's remote host.
func ClientIP(r *http.Request) string {
	for _, h := range ipHeaders {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" || strings.EqualFold(v, "unknown") {
			continue
		}
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = strings.TrimSpace(v[:i])
		}
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
