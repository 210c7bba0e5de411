package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// ReadyzCheck is one named dependency probe.
type ReadyzCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func Readyz(timeout time.Duration, checks ...ReadyzCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				slog.Warn("readiness check failed", "check", c.Name, "err", err)
				http.Error(w, "not ready: "+c.Name, http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// RegisterHealth mounts /healthz and /readyz.
func RegisterHealth(m *mux.Router, timeout time.Duration, checks ...ReadyzCheck) {
	m.HandleFunc("/healthz", Healthz()).Methods(http.MethodGet)
	m.HandleFunc("/readyz", Readyz(timeout, checks...)).Methods(http.MethodGet)
}
