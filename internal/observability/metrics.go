package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifgw_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifgw_admissions_total", Help: "Send admission outcomes"},
		[]string{"result"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifgw_enqueue_total", Help: "Queue push results"},
		[]string{"backend", "result"},
	)
	Batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifgw_batches_total", Help: "Processed batches by final status"},
		[]string{"status"},
	)
	ChannelSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifgw_channel_send_total", Help: "Channel send outcomes"},
		[]string{"channel_type", "result"},
	)
	ChannelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "notifgw_channel_send_latency_seconds", Help: "Channel send latency"},
		[]string{"channel_type"},
	)
	Redirects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifgw_redirects_total", Help: "Short-link redirect outcomes"},
		[]string{"result"},
	)
	FailOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifgw_cache_fail_open_total", Help: "Checks allowed because the cache was unavailable"},
		[]string{"check"},
	)
	PoolOverflow = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifgw_pool_overflow_total", Help: "Worker pool submissions that hit a full backlog"},
		[]string{"pool", "policy"},
	)
	DeliveryEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifgw_delivery_events_total", Help: "Provider status callbacks"},
		[]string{"provider", "status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Admissions, Enqueues, Batches, ChannelSend, ChannelLatency,
		Redirects, FailOpen, PoolOverflow, DeliveryEvents)
}
