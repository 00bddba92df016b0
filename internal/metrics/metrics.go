package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	APIRequestsTotal *prometheus.CounterVec
	ConversionsTotal *prometheus.CounterVec

	CacheLookupsTotal    *prometheus.CounterVec
	CacheStoresTotal     *prometheus.CounterVec
	CacheFallbacksTotal  prometheus.Counter
	NetworkFailuresTotal prometheus.Counter

	SyncRunsTotal    *prometheus.CounterVec
	ConnectedClients prometheus.Gauge
}

// NewMetrics registers every collector on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rates_api_requests_total",
				Help: "Total number of requests sent to the rates API",
			},
			[]string{"endpoint", "outcome"},
		),

		ConversionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversions_total",
				Help: "Total number of currency conversions",
			},
			[]string{"outcome"},
		),

		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_cache_lookups_total",
				Help: "Cache lookups by routing strategy and result",
			},
			[]string{"strategy", "result"},
		),

		CacheStoresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_cache_stores_total",
				Help: "Responses stored per cache partition",
			},
			[]string{"cache"},
		),

		CacheFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_cache_fallbacks_total",
				Help: "Network failures answered from cache",
			},
		),

		NetworkFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shell_network_failures_total",
				Help: "Upstream fetches that failed at the transport level",
			},
		),

		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shell_sync_runs_total",
				Help: "Background sync runs by tag and outcome",
			},
			[]string{"tag", "outcome"},
		),

		ConnectedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shell_connected_clients",
				Help: "Pages connected to the worker message channel",
			},
		),
	}
}
