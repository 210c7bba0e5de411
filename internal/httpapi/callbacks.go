package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"notifgw/internal/observability"
	"notifgw/internal/providers/twilio"
	"notifgw/internal/store"
)

type CallbackStore interface {
	InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error
	UpdateDetailDelivery(ctx context.Context, in store.DeliveryUpdate) (bool, error)
}

// Callbacks receives provider delivery reports.
type Callbacks struct {
	Store CallbackStore
	// Signatures are only checked when AuthToken is set.
	AuthToken string
	PublicURL string
	Now       func() time.Time
}

func (c *Callbacks) Register(m *mux.Router) {
	m.HandleFunc("/v1/callbacks/twilio/status", c.handleTwilioStatus).Methods(http.MethodPost)
}

func (c *Callbacks) handleTwilioStatus(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}
	if c.AuthToken != "" && !twilio.VerifySignature(c.AuthToken, c.PublicURL, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	msgSid := r.PostForm.Get("MessageSid")
	status := r.PostForm.Get("MessageStatus")
	errCode := r.PostForm.Get("ErrorCode")
	if msgSid == "" || status == "" {
		http.Error(rw, ErrBadForm, http.StatusBadRequest)
		return
	}
	observability.DeliveryEvents.WithLabelValues("twilio", status).Inc()

	if err := c.Store.InsertDeliveryEvent(r.Context(), store.DeliveryEvent{
		Provider:      "twilio",
		ProviderMsgID: msgSid,
		VendorStatus:  status,
		ErrorCode:     errCode,
		Payload:       flatten(r.PostForm),
	}); err != nil {
		slog.Error("callback insert delivery event failed", "err", err, "message_sid", msgSid, "status", status)
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}

	found, err := c.Store.UpdateDetailDelivery(r.Context(), store.DeliveryUpdate{
		Provider:      "twilio",
		ProviderMsgID: msgSid,
		Status:        twilio.DeliveryState(status),
		ErrorCode:     errCode,
		Now:           c.now(),
	})
	if err != nil {
		slog.Error("callback update detail failed", "err", err, "message_sid", msgSid, "status", status)
		http.Error(rw, ErrDependency, http.StatusInternalServerError)
		return
	}
	if !found {
		slog.Warn("callback for unknown message", "message_sid", msgSid, "status", status)
	}
	rw.WriteHeader(http.StatusOK)
}

func (c *Callbacks) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func flatten(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k := range form {
		out[k] = form.Get(k)
	}
	return out
}
