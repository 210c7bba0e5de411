package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with request logging and per-route request counting installed.
func New(requests *prometheus.CounterVec) *Server {
	m := mux.NewRouter()
	m.Use(Logging)
	if requests != nil {
		m.Use(Metrics(requests))
	}
	return &Server{Mux: m}
}

// NewMetrics is the separate metrics listener's router.
func NewMetrics() *Server {
	m := mux.NewRouter()
	m.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return &Server{Mux: m}
}
