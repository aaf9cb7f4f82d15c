package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the tournament data access core.

var (
	// Provider API metrics
	ProviderAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "challonge_api_request_duration_seconds",
		Help:    "Provider API request latency",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"endpoint", "status_code"})

	ProviderAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "challonge_api_errors_total",
		Help: "Provider API errors by kind",
	}, []string{"kind"})

	// Request gate metrics
	GateQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "request_gate_queue_depth",
		Help: "Number of requests waiting in the rate-limited gate",
	})

	GateWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "request_gate_wait_seconds",
		Help:    "Time a request spends queued before dispatch",
		Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
	})

	GateRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "request_gate_retries_total",
		Help: "Requests re-enqueued after a provider rate-limit response",
	})

	// Adaptive rate controller metrics
	RateControlMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rate_control_mode",
		Help: "Current adaptive mode (0=idle, 1=upcoming, 2=active)",
	})

	RateControlEffectiveRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rate_control_effective_rate_per_minute",
		Help: "Effective provider request budget in requests per minute",
	})

	DevModeActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dev_mode_active",
		Help: "Whether the rate gate bypass is active (0/1)",
	})

	// Cache metrics
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_operations_total",
		Help: "Cache operations by type and result",
	}, []string{"cache_type", "result"}) // result: hit|stale_hit|miss|error

	CacheSavedProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_saved_provider_calls_total",
		Help: "Provider calls avoided by a fresh cache hit",
	}, []string{"cache_type"})

	// Match poller metrics
	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "match_poll_duration_seconds",
		Help:    "Duration of one match poll tick",
		Buckets: prometheus.DefBuckets,
	})

	PollBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_poll_broadcasts_total",
		Help: "Match update broadcasts emitted after a digest change",
	})

	// Broadcast hub metrics
	DisplaysConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "displays_connected",
		Help: "Connected display clients by role",
	}, []string{"role"})

	BroadcastAckRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_ack_retries_total",
		Help: "Ack-tracked broadcasts re-sent after a missed ack",
	})

	BroadcastAckDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_ack_dropped_total",
		Help: "Ack-tracked broadcasts dropped after exhausting retries",
	})

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method, path, and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests by method, path, and status",
	}, []string{"method", "path", "status"})
)
