package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Live websocket connections currently registered.",
		},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_total",
			Help: "Inbound realtime events by type and result.",
		},
		[]string{"type", "result"},
	)

	CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Calls reaching a terminal status.",
		},
		[]string{"status"},
	)

	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_file_transfers_total",
			Help: "File transfers reaching a terminal state, by strategy.",
		},
		[]string{"strategy", "state"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		ActiveConnections,
		EventsTotal,
		CallsTotal,
		TransfersTotal,
	)
}

// MustRegisterActivityGauges exposes live counts owned by the components
// themselves. The counts are sampled at scrape time, so the components
// never touch the registry directly.
func MustRegisterActivityGauges(onlineAccounts, activeCalls, activeTransfers func() int) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gateway_online_accounts",
			Help: "Accounts with at least one live connection.",
		}, func() float64 { return float64(onlineAccounts()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gateway_active_calls",
			Help: "Calls currently in a non-terminal status.",
		}, func() float64 { return float64(activeCalls()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gateway_active_file_transfers",
			Help: "File transfers currently negotiating or in flight.",
		}, func() float64 { return float64(activeTransfers()) }),
	)
}
