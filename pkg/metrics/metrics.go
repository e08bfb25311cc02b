// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "iacandy"

// Metrics groups every collector the assistant updates. A nil *Metrics is
// valid and records nothing, so components can be built without a registry.
type Metrics struct {
	TierSelections     *prometheus.CounterVec
	GenerationAttempts *prometheus.CounterVec
	AnswerDuration     *prometheus.HistogramVec
	CacheRebuilds      *prometheus.CounterVec
	CacheBuildDuration prometheus.Histogram
	RetrievalDegraded  prometheus.Counter
	EmbeddingsComputed *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TierSelections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tier_selections_total",
			Help:      "Questions routed to each model tier",
		}, []string{"tier"}),
		GenerationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Generation attempts by tier and outcome",
		}, []string{"tier", "status"}),
		AnswerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_duration_seconds",
			Help:      "End-to-end latency of answered questions",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"outcome"}),
		CacheRebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_cache_rebuilds_total",
			Help:      "Schema cache rebuilds by result",
		}, []string{"result"}),
		CacheBuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "schema_cache_build_duration_seconds",
			Help:      "Duration of schema cache rebuilds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		RetrievalDegraded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Retrievals that fell back to lexical search",
		}),
		EmbeddingsComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_computed_total",
			Help:      "Documents embedded during index builds, by namespace",
		}, []string{"namespace"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "path", "status"}),
	}
}

// ObserveTier counts a routing decision.
func (m *Metrics) ObserveTier(tier string) {
	if m == nil {
		return
	}
	m.TierSelections.WithLabelValues(tier).Inc()
}

// ObserveAttempt counts one generation attempt.
func (m *Metrics) ObserveAttempt(tier, status string) {
	if m == nil {
		return
	}
	m.GenerationAttempts.WithLabelValues(tier, status).Inc()
}

// ObserveAnswer records the latency of a finished turn.
func (m *Metrics) ObserveAnswer(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AnswerDuration.WithLabelValues(outcome).Observe(seconds)
}

// ObserveRebuild records a cache rebuild.
func (m *Metrics) ObserveRebuild(ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.CacheRebuilds.WithLabelValues(result).Inc()
	m.CacheBuildDuration.Observe(seconds)
}

// ObserveDegraded counts a lexical fallback.
func (m *Metrics) ObserveDegraded() {
	if m == nil {
		return
	}
	m.RetrievalDegraded.Inc()
}

// ObserveEmbedded counts freshly embedded documents.
func (m *Metrics) ObserveEmbedded(namespace string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EmbeddingsComputed.WithLabelValues(namespace).Add(float64(n))
}

// ObserveRequest counts an HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
