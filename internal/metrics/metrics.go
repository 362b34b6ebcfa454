package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersProcessed tracks transfers handled by accumulation runs
	TransfersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparechange_transfers_processed_total",
			Help: "The total number of outgoing transfers processed",
		},
		[]string{"outcome"}, // stored, duplicate, unpriced
	)

	// PriceLookups tracks price lookups by result
	PriceLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparechange_price_lookups_total",
			Help: "The total number of price lookups",
		},
		[]string{"result"}, // cache_hit, fetched, stable, failed
	)

	// UpstreamRequestsTotal tracks transfer feed requests by status
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparechange_upstream_requests_total",
			Help: "The total number of transfer feed requests",
		},
		[]string{"status"},
	)

	// EndpointHealth tracks transfer feed endpoint health
	EndpointHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sparechange_endpoint_health",
			Help: "Health status of transfer feed endpoints (1 = healthy, 0 = unhealthy)",
		},
		[]string{"endpoint"},
	)

	// TrackSeconds tracks time taken by a single accumulation run
	TrackSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sparechange_track_seconds",
		Help:    "Time taken to track round-ups for a wallet in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TruncatedRuns tracks runs whose batch was cut at the transfer limit
	TruncatedRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sparechange_truncated_runs_total",
		Help: "The number of tracking runs that fetched as many transfers as their limit",
	})

	// BaselineConflicts tracks lost compare-and-swap baseline advances
	BaselineConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sparechange_baseline_conflicts_total",
		Help: "The number of baseline advances rejected by a concurrent run",
	})
)

// RecordTransfer records the outcome of a processed transfer
func RecordTransfer(outcome string) {
	TransfersProcessed.WithLabelValues(outcome).Inc()
}

// RecordPriceLookup records a price lookup result
func RecordPriceLookup(result string) {
	PriceLookups.WithLabelValues(result).Inc()
}

// RecordUpstreamRequest records a transfer feed request with the given status
func RecordUpstreamRequest(status string) {
	UpstreamRequestsTotal.WithLabelValues(status).Inc()
}

// SetEndpointHealth sets the health status of an endpoint
func SetEndpointHealth(endpoint string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	EndpointHealth.WithLabelValues(endpoint).Set(value)
}

// RecordTrack records the time taken by an accumulation run
func RecordTrack(duration float64) {
	TrackSeconds.Observe(duration)
}

var (
	// HTTPRequestsTotal tracks API requests by route and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparechange_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks API latency by route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sparechange_http_request_duration_seconds",
			Help:    "HTTP request latency distributions",
			Buckets: []float64{0.1, 0.3, 0.5, 1.0, 2.0, 5.0, 15.0, 30.0},
		},
		[]string{"method", "path"},
	)
)

// RecordHTTPRequest records a served API request
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
