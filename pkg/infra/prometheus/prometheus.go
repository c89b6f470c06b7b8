package prometheus

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

const (
	OutcomeAllowed        = "allowed"
	OutcomeRejected       = "rejected"
	OutcomeDegradedOpen   = "degraded_open"
	OutcomeDegradedClosed = "degraded_closed"
	OutcomeMisconfigured  = "misconfigured"
)

var (
	// Store latency buckets in milliseconds; fail-open calls are expected in
	// the first few buckets.
	storeLatencyBuckets = []float64{
		0.5, 1, 2.5,
		5, 10, 25,
		50, 100, 250,
		500, 1000,
	}

	RateLimitDecisions = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archivegate_ratelimit_decisions_total",
			Help: "Rate limit decisions per operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RateLimitStoreLatency = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archivegate_ratelimit_store_latency_ms",
			Help:    "Bucket store round trip latency in milliseconds",
			Buckets: storeLatencyBuckets,
		},
		[]string{"pool", "status"},
	)

	RateLimitDegradedLogsSuppressed = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "archivegate_ratelimit_degraded_logs_suppressed_total",
			Help: "Backend degradation log lines dropped by throttling",
		},
	)

	RateLimitCASRetriesExhausted = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "archivegate_ratelimit_cas_retries_exhausted_total",
			Help: "Consumes denied because the bucket kept changing under compare-and-swap",
		},
	)
	GatewayRequestTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "archivegate_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"method", "status"},
	)
)

type MetricsConfig struct {
	Enabled bool
}

var (
	Config   MetricsConfig
	initOnce sync.Once
)

func Initialize(cfg MetricsConfig) {
	Config = cfg
	initOnce.Do(func() {
		registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	})
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func RecordDecision(operation, outcome string) {
	RateLimitDecisions.WithLabelValues(operation, outcome).Inc()
}

func ObserveStoreCall(pool string, ok bool, elapsed time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	RateLimitStoreLatency.WithLabelValues(pool, status).Observe(float64(elapsed.Microseconds()) / 1000)
}
