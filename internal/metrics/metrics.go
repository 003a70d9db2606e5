package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerd_requests_total",
			Help: "Total number of QA requests",
		},
		[]string{"status", "cached"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answerd_request_duration_seconds",
			Help:    "End-to-end QA request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	AdmissionRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answerd_admission_rejected_total",
			Help: "Requests rejected by the admission queue",
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerd_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answerd_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Vector index metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerd_vector_search_total",
			Help: "Total number of vector index searches",
		},
		[]string{"backend", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answerd_vector_search_latency_seconds",
			Help:    "Vector index search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Rerank metrics
	RerankRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerd_rerank_requests_total",
			Help: "Total number of rerank scoring calls",
		},
		[]string{"mode", "status"},
	)

	// Generation metrics
	GenerationCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerd_generation_candidates_total",
			Help: "Generated answer candidates by sampling profile",
		},
		[]string{"profile", "status"},
	)

	GenerationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answerd_generation_latency_seconds",
			Help:    "Best-of-N generation latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
		},
	)

	// External knowledge agent metrics
	ExternalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerd_external_requests_total",
			Help: "Total number of external knowledge agent calls",
		},
		[]string{"status"},
	)

	ExternalLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answerd_external_latency_seconds",
			Help:    "External knowledge agent latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
	)

	// Merge metrics
	MergeStrategies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerd_merge_strategies_total",
			Help: "Answer merges by chosen strategy",
		},
		[]string{"strategy"},
	)

	// Gate metrics
	GateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerd_gate_outcomes_total",
			Help: "Confidence gate outcomes",
		},
		[]string{"outcome"},
	)

	// Answer cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answerd_cache_hits_total",
			Help: "Total number of answer cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answerd_cache_misses_total",
			Help: "Total number of answer cache misses",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answerd_cache_evictions_total",
			Help: "Total number of answer cache evictions",
		},
	)

	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "answerd_cache_size",
			Help: "Current number of entries in the answer cache",
		},
	)

	SingleflightShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answerd_singleflight_shared_total",
			Help: "Requests that joined an in-flight identical computation",
		},
	)

	// Degraded mode metrics
	DegradedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerd_degraded_responses_total",
			Help: "Successful responses produced in degraded mode",
		},
		[]string{"reason"},
	)
)

// RecordEmbeddingMetrics records embedding call metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordVectorSearchMetrics records vector index search metrics
func RecordVectorSearchMetrics(backend, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(backend, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(backend).Observe(durationSeconds)
	}
}

// RecordRequestMetrics records metrics for a completed QA request
func RecordRequestMetrics(status string, cached bool, durationSeconds float64) {
	c := "false"
	if cached {
		c = "true"
	}
	RequestsTotal.WithLabelValues(status, c).Inc()
	RequestDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordExternalMetrics records external knowledge agent call metrics
func RecordExternalMetrics(status string, durationSeconds float64) {
	ExternalRequests.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		ExternalLatency.Observe(durationSeconds)
	}
}
