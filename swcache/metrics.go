/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package swcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FetchResult describes how an intercepted request was served.
type FetchResult string

// Fetch results.
const (
	FetchResultCacheHit        FetchResult = "cache_hit"
	FetchResultNetworkCached   FetchResult = "network_cached"
	FetchResultNetworkUncached FetchResult = "network_uncached"
	FetchResultNetworkError    FetchResult = "network_error"
)

// MetricsCollector collects metrics of the cache manager.
type MetricsCollector interface {
	IncFetches(result FetchResult)
	ObservePrecacheDuration(d time.Duration)
}

// PrometheusMetrics represents Prometheus metrics of the cache manager.
type PrometheusMetrics struct {
	FetchesTotal     *prometheus.CounterVec
	PrecacheDuration prometheus.Histogram
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Number of intercepted requests by the way they were served.",
		}, []string{"result"}),
		PrecacheDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "precache_duration_seconds",
			Help:      "Duration of precaching the asset manifest during installation.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.FetchesTotal, pm.PrecacheDuration)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.FetchesTotal)
	prometheus.Unregister(pm.PrecacheDuration)
}

// IncFetches increments the number of intercepted requests served with the result.
func (pm *PrometheusMetrics) IncFetches(result FetchResult) {
	pm.FetchesTotal.WithLabelValues(string(result)).Inc()
}

// ObservePrecacheDuration observes a precache duration.
func (pm *PrometheusMetrics) ObservePrecacheDuration(d time.Duration) {
	pm.PrecacheDuration.Observe(d.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) IncFetches(FetchResult)                {}
func (disabledMetrics) ObservePrecacheDuration(time.Duration) {}
