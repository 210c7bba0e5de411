package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

type Banner interface {
	Ban(ctx context.Context, ip, reason string, duration time.Duration) error
	Unban(ctx context.Context, ip string) (bool, error)
}

type Blacklist struct {
	Guard Banner
}

func (b *Blacklist) Register(m *mux.Router) {
	m.HandleFunc("/v1/blacklist", b.handleBan).Methods(http.MethodPost)
	m.HandleFunc("/v1/blacklist/{ip}", b.handleUnban).Methods(http.MethodDelete)
}

type banRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
	// 0 bans permanently.
	DurationSeconds int64 `json:"durationSeconds"`
}

func (b *Blacklist) handleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.IP == "" || req.DurationSeconds < 0 {
		http.Error(w, "ip is required and durationSeconds must not be negative", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	if err := b.Guard.Ban(r.Context(), req.IP, req.Reason, time.Duration(req.DurationSeconds)*time.Second); err != nil {
		slog.Error("manual ban failed", "ip", req.IP, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	slog.Info("ip banned", "ip", req.IP, "reason", req.Reason, "duration_s", req.DurationSeconds)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Blacklist) handleUnban(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	removed, err := b.Guard.Unban(r.Context(), ip)
	if err != nil {
		slog.Error("unban failed", "ip", ip, "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	slog.Info("ip unbanned", "ip", ip, "removed", removed)
	w.WriteHeader(http.StatusNoContent)
}
