/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cachestorage

import "github.com/prometheus/client_golang/prometheus"

const bucketLabel = "bucket"

// MetricsCollector represents a collector of metrics to analyze how (effectively or not) buckets are used.
type MetricsCollector interface {
	// SetAmount sets the total number of entries in the bucket.
	SetAmount(bucket string, amount int)

	// IncHits increments the total number of successfully matched keys in the bucket.
	IncHits(bucket string)

	// IncMisses increments the total number of not matched keys in the bucket.
	IncMisses(bucket string)

	// AddEvictions increments the total number of evicted entries.
	AddEvictions(bucket string, n int)

	// ForgetBucket drops all series of the deleted bucket.
	ForgetBucket(bucket string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for cache buckets.
type PrometheusMetrics struct {
	EntriesAmount  *prometheus.GaugeVec
	HitsTotal      *prometheus.CounterVec
	MissesTotal    *prometheus.CounterVec
	EvictionsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	labels := []string{bucketLabel}
	return &PrometheusMetrics{
		EntriesAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "cache_bucket_entries_amount",
			Help:        "Total number of entries in the cache bucket.",
			ConstLabels: opts.ConstLabels,
		}, labels),
		HitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "cache_bucket_hits_total",
			Help:        "Number of successfully matched requests in the cache bucket.",
			ConstLabels: opts.ConstLabels,
		}, labels),
		MissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "cache_bucket_misses_total",
			Help:        "Number of not matched requests in the cache bucket.",
			ConstLabels: opts.ConstLabels,
		}, labels),
		EvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "cache_bucket_evictions_total",
			Help:        "Number of evicted entries.",
			ConstLabels: opts.ConstLabels,
		}, labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.EntriesAmount, pm.HitsTotal, pm.MissesTotal, pm.EvictionsTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.EntriesAmount)
	prometheus.Unregister(pm.HitsTotal)
	prometheus.Unregister(pm.MissesTotal)
	prometheus.Unregister(pm.EvictionsTotal)
}

// SetAmount sets the total number of entries in the bucket.
func (pm *PrometheusMetrics) SetAmount(bucket string, amount int) {
	pm.EntriesAmount.WithLabelValues(bucket).Set(float64(amount))
}

// IncHits increments the total number of successfully matched keys in the bucket.
func (pm *PrometheusMetrics) IncHits(bucket string) {
	pm.HitsTotal.WithLabelValues(bucket).Inc()
}

// IncMisses increments the total number of not matched keys in the bucket.
func (pm *PrometheusMetrics) IncMisses(bucket string) {
	pm.MissesTotal.WithLabelValues(bucket).Inc()
}

// AddEvictions increments the total number of evicted entries.
func (pm *PrometheusMetrics) AddEvictions(bucket string, n int) {
	pm.EvictionsTotal.WithLabelValues(bucket).Add(float64(n))
}

// ForgetBucket drops all series of the deleted bucket.
func (pm *PrometheusMetrics) ForgetBucket(bucket string) {
	pm.EntriesAmount.DeleteLabelValues(bucket)
	pm.HitsTotal.DeleteLabelValues(bucket)
	pm.MissesTotal.DeleteLabelValues(bucket)
	pm.EvictionsTotal.DeleteLabelValues(bucket)
}

type disabledMetrics struct{}

func (disabledMetrics) SetAmount(string, int)    {}
func (disabledMetrics) IncHits(string)           {}
func (disabledMetrics) IncMisses(string)         {}
func (disabledMetrics) AddEvictions(string, int) {}
func (disabledMetrics) ForgetBucket(string)      {}
