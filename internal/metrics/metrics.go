package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync engine
	SyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_sync_total",
			Help: "Wallet sync calls by outcome.",
		},
		[]string{"chain", "outcome"}, // cache_hit|fetched|stale|failed
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portfolio_sync_duration_seconds",
			Help:    "Duration of wallet syncs that reached the network.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)
	RPCAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_rpc_attempts_total",
			Help: "Adapter call attempts by result.",
		},
		[]string{"chain", "call", "result"}, // ok|transient|fatal
	)

	// Price lookup
	PriceLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolio_price_lookups_total",
			Help: "Price lookups by result.",
		},
		[]string{"result"}, // cache_hit|fetched|unavailable
	)

	// HTTP
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	initOnce sync.Once
)

// Handler serves /metrics.
var Handler = promhttp.Handler

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(SyncTotal)
		prometheus.MustRegister(SyncDuration)
		prometheus.MustRegister(RPCAttempts)
		prometheus.MustRegister(PriceLookups)
		prometheus.MustRegister(HTTPLatency)
	})
}
