// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Reconciliation metrics
	RefreshesStarted   *prometheus.CounterVec // by kind (full|ids)
	RefreshesSucceeded *prometheus.CounterVec
	RefreshesFailed    *prometheus.CounterVec
	RefreshDuration    *prometheus.HistogramVec

	// Token movement metrics
	TokensAdded    prometheus.Counter
	TokensRemoved  prometheus.Counter
	TokensExcluded prometheus.Counter // metadata probe concluded not-a-token

	// Id-refresh retry metrics
	IDCheckFailures    prometheus.Counter
	IDRetryRounds      prometheus.Counter
	IDRetriesExhausted prometheus.Counter

	// Cache metrics
	TokensCached *prometheus.GaugeVec // by network
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg registers on the default registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "dex_token_registry"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RefreshesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "refreshes_started_total",
			Help:      "Total number of reconciliation passes started by kind",
		}, []string{"kind"}),
		RefreshesSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "refreshes_succeeded_total",
			Help:      "Total number of reconciliation passes completed by kind",
		}, []string{"kind"}),
		RefreshesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "refreshes_failed_total",
			Help:      "Total number of reconciliation passes failed by kind",
		}, []string{"kind"}),
		RefreshDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "refresh_duration_seconds",
			Help:      "Reconciliation pass duration in seconds by kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		TokensAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "tokens_added_total",
			Help:      "Total number of tokens added to the cache",
		}),
		TokensRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "tokens_removed_total",
			Help:      "Total number of tokens pruned from the cache",
		}),
		TokensExcluded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "tokens_excluded_total",
			Help:      "Total number of addresses excluded because the metadata probe failed",
		}),

		IDCheckFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "id_check_failures_total",
			Help:      "Total number of per-token id checks that failed transiently",
		}),
		IDRetryRounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "id_retry_rounds_total",
			Help:      "Total number of scheduled id-refresh retry rounds",
		}),
		IDRetriesExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "id_retries_exhausted_total",
			Help:      "Total number of id-refresh batches abandoned after max retry rounds",
		}),

		TokensCached: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "tokens",
			Help:      "Number of tokens currently cached by network",
		}, []string{"network"}),
	}
}
