package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifgw/internal/domain"
	"notifgw/internal/providers/twilio"
	"notifgw/internal/service"
	"notifgw/internal/shortlink"
	"notifgw/internal/store"
)

type fakeSender struct {
	err  error
	last domain.SendRequest
}

func (f *fakeSender) Send(_ context.Context, req domain.SendRequest) (int64, error) {
	f.last = req
	if f.err != nil {
		return 0, f.err
	}
	return 42, nil
}

type fakePublisher struct {
	ids []int64
	err error
}

func (f *fakePublisher) Publish(_ context.Context, id int64) error {
	f.ids = append(f.ids, id)
	return f.err
}

func serve(t *testing.T, register func(*Server)) *Server {
	t.Helper()
	s := New(nil)
	register(s)
	return s
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, req)
	return rec
}

func TestSendAccepted(t *testing.T) {
	sender := &fakeSender{}
	s := serve(t, func(s *Server) { (&API{Sender: sender}).Register(s.Mux) })

	rec := do(s, http.MethodPost, "/v1/messages",
		`{"appId":3,"templateCode":"OTP","recipients":["+15550001"],"params":{"code":"1234"},"bizId":"b-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"batchId":42}`, rec.Body.String())
	assert.Equal(t, "OTP", sender.last.TemplateCode)
	assert.Equal(t, int64(3), sender.last.AppID)
	assert.Equal(t, "b-1", sender.last.BizID)
}

func TestSendErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
		{domain.ErrTemplateNotFound, http.StatusNotFound, "TEMPLATE_NOT_FOUND"},
		{domain.ErrDuplicateRequest, http.StatusConflict, "DUPLICATE_REQUEST"},
		{fmt.Errorf("%w: WEBHOOK", domain.ErrHandlerNotFound), http.StatusUnprocessableEntity, "HANDLER_NOT_FOUND"},
		{domain.ErrNoRecipients, http.StatusUnprocessableEntity, "NO_RECIPIENTS"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{fmt.Errorf("%w: redis down", service.ErrUnavailable), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{errors.New("boom"), http.StatusBadGateway, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			s := serve(t, func(s *Server) { (&API{Sender: &fakeSender{err: tc.err}}).Register(s.Mux) })
			rec := do(s, http.MethodPost, "/v1/messages", `{"templateCode":"X"}`)
			assert.Equal(t, tc.status, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestSendInvalidJSON(t *testing.T) {
	s := serve(t, func(s *Server) { (&API{Sender: &fakeSender{}}).Register(s.Mux) })
	rec := do(s, http.MethodPost, "/v1/messages", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryDetailIsNotImplemented(t *testing.T) {
	s := serve(t, func(s *Server) { (&API{}).Register(s.Mux) })
	rec := do(s, http.MethodPost, "/v1/details/5/retry", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.JSONEq(t, `{"success":false}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/v1/details/abc/retry", "").Code)
}

type fakeRetrier struct {
	ok  bool
	ids []int64
}

func (f *fakeRetrier) Retry(_ context.Context, id int64) bool {
	f.ids = append(f.ids, id)
	return f.ok
}

func TestRetryDetailAsksRetrier(t *testing.T) {
	declined := &fakeRetrier{}
	s := serve(t, func(s *Server) { (&API{Retries: declined}).Register(s.Mux) })
	rec := do(s, http.MethodPost, "/v1/details/7/retry", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.JSONEq(t, `{"success":false}`, rec.Body.String())
	assert.Equal(t, []int64{7}, declined.ids)

	s = serve(t, func(s *Server) { (&API{Retries: &fakeRetrier{ok: true}}).Register(s.Mux) })
	rec = do(s, http.MethodPost, "/v1/details/7/retry", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestChannelRefresh(t *testing.T) {
	pub := &fakePublisher{}
	s := serve(t, func(s *Server) { (&API{Refresh: pub}).Register(s.Mux) })

	assert.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/v1/channels/12/refresh", "").Code)
	assert.Equal(t, []int64{12}, pub.ids)

	pub.err = errors.New("redis down")
	assert.Equal(t, http.StatusBadGateway, do(s, http.MethodPost, "/v1/channels/12/refresh", "").Code)
}

type fakeLinks struct {
	targets  map[string]string
	recorded []string
	created  shortlink.CreateRequest
	err      error
}

func (f *fakeLinks) Create(_ context.Context, req shortlink.CreateRequest) (shortlink.Link, error) {
	f.created = req
	if f.err != nil {
		return shortlink.Link{}, f.err
	}
	return shortlink.Link{ShortCode: "abc123", ShortURL: "https://s.example/s/abc123", OriginalURL: req.URL, Status: 1}, nil
}

func (f *fakeLinks) Resolve(_ context.Context, code string) (string, error) {
	if u, ok := f.targets[code]; ok {
		return u, nil
	}
	return "", shortlink.ErrNotFound
}

func (f *fakeLinks) RecordAccess(_ context.Context, code, ip, ua, ref string) {
	f.recorded = append(f.recorded, code+"|"+ip+"|"+ua+"|"+ref)
}

func (f *fakeLinks) Stats(_ context.Context, code string) (shortlink.Stats, error) {
	if _, ok := f.targets[code]; !ok {
		return shortlink.Stats{}, shortlink.ErrNotFound
	}
	return shortlink.Stats{ShortCode: code, TotalClicks: 3}, nil
}

func (f *fakeLinks) Disable(_ context.Context, code string) error {
	if _, ok := f.targets[code]; !ok {
		return shortlink.ErrNotFound
	}
	return nil
}

func (f *fakeLinks) Delete(ctx context.Context, code string) error { return f.Disable(ctx, code) }

type fixedGate struct {
	verdict shortlink.Verdict
	ips     []string
}

func (g *fixedGate) Admit(_ context.Context, ip string) shortlink.Verdict {
	g.ips = append(g.ips, ip)
	return g.verdict
}

func linkServer(t *testing.T, links *fakeLinks, gate *fixedGate) *Server {
	return serve(t, func(s *Server) { (&ShortLinks{Links: links, Gate: gate}).Register(s.Mux) })
}

func TestCreateShortLink(t *testing.T) {
	links := &fakeLinks{}
	s := linkServer(t, links, &fixedGate{})

	rec := do(s, http.MethodPost, "/v1/short-urls", `{"url":"https://example.com","customCode":"abc123","ttl":60,"createdBy":9}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"shortUrl":"https://s.example/s/abc123"`)
	require.NotNil(t, links.created.TTL)
	assert.Equal(t, int64(60), *links.created.TTL)
	assert.Equal(t, int64(9), links.created.CreatedBy)

	links.err = shortlink.ErrInvalidURL
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/v1/short-urls", `{"url":"x"}`).Code)
	links.err = shortlink.ErrCodeTaken
	assert.Equal(t, http.StatusConflict, do(s, http.MethodPost, "/v1/short-urls", `{"url":"https://e.com"}`).Code)
	links.err = errors.New("db down")
	assert.Equal(t, http.StatusBadGateway, do(s, http.MethodPost, "/v1/short-urls", `{"url":"https://e.com"}`).Code)
}

func TestShortLinkAdminRoutes(t *testing.T) {
	links := &fakeLinks{targets: map[string]string{"abc123": "https://example.com"}}
	s := linkServer(t, links, &fixedGate{})

	rec := do(s, http.MethodGet, "/v1/short-urls/abc123/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalClicks":3`)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/short-urls/zzz999/stats", "").Code)

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodPost, "/v1/short-urls/abc123/disable", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/v1/short-urls/zzz999/disable", "").Code)
	assert.Equal(t, http.StatusNoContent, do(s, http.MethodDelete, "/v1/short-urls/abc123", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodDelete, "/v1/short-urls/zzz999", "").Code)
}

func TestRedirect(t *testing.T) {
	links := &fakeLinks{targets: map[string]string{
		"good01": "https://example.com/landing",
		"evil01": "javascript:alert(1)",
	}}
	gate := &fixedGate{}
	s := linkServer(t, links, gate)

	req := httptest.NewRequest(http.MethodGet, "/s/good01", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", "curl/8")
	req.Header.Set("Referer", "https://ref.example")
	rec := httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/landing", rec.Header().Get("Location"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))
	assert.Equal(t, []string{"good01|203.0.113.9|curl/8|https://ref.example"}, links.recorded)
	assert.Equal(t, []string{"203.0.113.9"}, gate.ips)

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/s/evil01", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/s/none01", "").Code)
	assert.Len(t, links.recorded, 1)
}

func TestRedirectMalformedCodeSkipsGate(t *testing.T) {
	gate := &fixedGate{}
	s := linkServer(t, &fakeLinks{}, gate)

	rec := do(s, http.MethodGet, "/s/ab", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Empty(t, gate.ips)
}

func TestRedirectRejections(t *testing.T) {
	cases := []struct {
		verdict shortlink.Verdict
		status  int
	}{
		{shortlink.Blacklisted, http.StatusForbidden},
		{shortlink.IPLimited, http.StatusTooManyRequests},
		{shortlink.GlobalLimited, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		t.Run(tc.verdict.String(), func(t *testing.T) {
			links := &fakeLinks{targets: map[string]string{"good01": "https://example.com"}}
			s := linkServer(t, links, &fixedGate{verdict: tc.verdict})
			rec := do(s, http.MethodGet, "/s/good01", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
			assert.Empty(t, links.recorded)
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Set("WL-Proxy-Client-IP", "192.0.2.4")
	assert.Equal(t, "192.0.2.4", ClientIP(r))
	r.Header.Set("X-Real-IP", "192.0.2.3")
	assert.Equal(t, "192.0.2.3", ClientIP(r))
	r.Header.Set("X-Forwarded-For", "unknown")
	assert.Equal(t, "192.0.2.3", ClientIP(r))
	r.Header.Set("X-Forwarded-For", "192.0.2.2 , 10.0.0.1")
	assert.Equal(t, "192.0.2.2", ClientIP(r))
}

type fakeBanner struct {
	banned   map[string]time.Duration
	unbanned []string
	err      error
}

func (f *fakeBanner) Ban(_ context.Context, ip, _ string, d time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.banned[ip] = d
	return nil
}

func (f *fakeBanner) Unban(_ context.Context, ip string) (bool, error) {
	f.unbanned = append(f.unbanned, ip)
	return true, nil
}

func TestBlacklistAdmin(t *testing.T) {
	guard := &fakeBanner{banned: map[string]time.Duration{}}
	s := serve(t, func(s *Server) { (&Blacklist{Guard: guard}).Register(s.Mux) })

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodPost, "/v1/blacklist", `{"ip":"1.2.3.4","durationSeconds":90}`).Code)
	assert.Equal(t, 90*time.Second, guard.banned["1.2.3.4"])
	assert.Equal(t, http.StatusNoContent, do(s, http.MethodPost, "/v1/blacklist", `{"ip":"5.6.7.8","reason":"abuse"}`).Code)
	assert.Equal(t, time.Duration(0), guard.banned["5.6.7.8"])
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/v1/blacklist", `{"reason":"x"}`).Code)

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodDelete, "/v1/blacklist/1.2.3.4", "").Code)
	assert.Equal(t, []string{"1.2.3.4"}, guard.unbanned)

	guard.err = errors.New("db down")
	assert.Equal(t, http.StatusBadGateway, do(s, http.MethodPost, "/v1/blacklist", `{"ip":"9.9.9.9"}`).Code)
}

type fakeCallbackStore struct {
	events  []store.DeliveryEvent
	updates []store.DeliveryUpdate
}

func (f *fakeCallbackStore) InsertDeliveryEvent(_ context.Context, in store.DeliveryEvent) error {
	f.events = append(f.events, in)
	return nil
}

func (f *fakeCallbackStore) UpdateDetailDelivery(_ context.Context, in store.DeliveryUpdate) (bool, error) {
	f.updates = append(f.updates, in)
	return true, nil
}

func TestTwilioCallback(t *testing.T) {
	const token, public = "secret", "https://api.example/v1/callbacks/twilio/status"
	st := &fakeCallbackStore{}
	s := serve(t, func(s *Server) {
		(&Callbacks{Store: st, AuthToken: token, PublicURL: public}).Register(s.Mux)
	})

	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"undelivered"}, "ErrorCode": {"30003"}}
	post := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/callbacks/twilio/status", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", sig)
		rec := httptest.NewRecorder()
		s.Mux.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("bogus").Code)
	assert.Empty(t, st.events)

	require.Equal(t, http.StatusOK, post(twilio.Sign(token, public, form)).Code)
	require.Len(t, st.events, 1)
	assert.Equal(t, "SM1", st.events[0].ProviderMsgID)
	require.Len(t, st.updates, 1)
	assert.Equal(t, "failed", st.updates[0].Status)
	assert.Equal(t, "30003", st.updates[0].ErrorCode)
}

func TestTwilioCallbackWithoutTokenSkipsSignature(t *testing.T) {
	st := &fakeCallbackStore{}
	s := serve(t, func(s *Server) { (&Callbacks{Store: st}).Register(s.Mux) })

	req := httptest.NewRequest(http.MethodPost, "/v1/callbacks/twilio/status",
		strings.NewReader("MessageSid=SM2&MessageStatus=delivered"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "delivered", st.updates[0].Status)

	bad := httptest.NewRequest(http.MethodPost, "/v1/callbacks/twilio/status", strings.NewReader("MessageStatus=sent"))
	bad.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.Mux.ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	var fail error
	s := serve(t, func(s *Server) {
		RegisterHealth(s.Mux, time.Second, ReadyzCheck{Name: "db", Check: func(context.Context) error { return fail }})
	})

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/readyz", "").Code)
	fail = errors.New("down")
	rec := do(s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db")
}

func TestRouteLabelUsesTemplate(t *testing.T) {
	var label string
	s := New(nil)
	s.Mux.HandleFunc("/v1/short-urls/{code}/stats", func(w http.ResponseWriter, r *http.Request) {
		label = routeLabel(r)
	})
	do(s, http.MethodGet, "/v1/short-urls/abc123/stats", "")
	assert.Equal(t, "/v1/short-urls/{code}/stats", label)
}
