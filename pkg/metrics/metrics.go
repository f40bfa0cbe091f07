package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "riskdash"

var (
	// PredictAttempts counts individual upstream calls by outcome
	// (success, cold_start, timeout, network, rejected, malformed, canceled).
	PredictAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predict_attempts_total",
			Help:      "Upstream scoring attempts by outcome",
		},
		[]string{"outcome"},
	)

	// PredictResults counts whole Predict invocations by terminal result.
	PredictResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predict_results_total",
			Help:      "Prediction requests by terminal result",
		},
		[]string{"result"},
	)

	RetryBackoff = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predict_retry_backoff_seconds",
			Help:      "Delay inserted before a retry attempt",
			Buckets:   []float64{1, 15, 30, 45, 60, 75, 90, 105, 120},
		},
	)

	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Local store failures by operation",
		},
		[]string{"operation"},
	)

	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Local store operations by backend and operation",
		},
		[]string{"backend", "operation"},
	)

	// StoreBackend is 1 for the backend currently serving the store.
	StoreBackend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_backend_active",
			Help:      "Active local store backend",
		},
		[]string{"backend"},
	)

	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Same-origin proxy requests by upstream status class",
		},
		[]string{"status"},
	)
)
