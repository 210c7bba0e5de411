package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"notifgw/internal/domain"
)

type Sender interface {
	Send(ctx context.Context, req domain.SendRequest) (int64, error)
}

// Retrier resends one detail. Reporting false means nothing was resent.
type Retrier interface {
	Retry(ctx context.Context, detailID int64) bool
}

type RefreshPublisher interface {
	Publish(ctx context.Context, channelID int64) error
}

// API is the send surface plus the channel and detail administration routes.
type API struct {
	Sender  Sender
	Retries Retrier
	Refresh RefreshPublisher
}

func (a *API) Register(m *mux.Router) {
	m.HandleFunc("/v1/messages", a.handleSend).Methods(http.MethodPost)
	m.HandleFunc("/v1/details/{id}/retry", a.handleRetryDetail).Methods(http.MethodPost)
	m.HandleFunc("/v1/channels/{id}/refresh", a.handleRefreshChannel).Methods(http.MethodPost)
}

type sendResponse struct {
	BatchID int64 `json:"batchId"`
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", ErrInvalidJSON)
		return
	}
	id, err := a.Sender.Send(r.Context(), req)
	if err != nil {
		writeSendError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sendResponse{BatchID: id})
}

func (a *API) handleRetryDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if a.Retries == nil || !a.Retries.Retry(r.Context(), id) {
		writeJSON(w, http.StatusNotImplemented, map[string]bool{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleRefreshChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.Refresh.Publish(r.Context(), id); err != nil {
		slog.Error("channel refresh publish failed", "channel_id", id, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
