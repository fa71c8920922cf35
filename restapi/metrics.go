/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsSubsystem                = "restapi"
	metricsLabelResponseErrorDomain = "domain"
	metricsLabelResponseErrorCode   = "code"
)

var metricsResponseErrors atomic.Pointer[prometheus.CounterVec]

func loadResponseErrorsCounter() *prometheus.CounterVec {
	return metricsResponseErrors.Load()
}

// MustInitAndRegisterMetrics initializes and registers restapi global metrics. Panic will be raised in case of error.
func MustInitAndRegisterMetrics(namespace string) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: metricsSubsystem,
		Name:      "response_errors_total",
		Help:      "The total number of REST API errors that were responded.",
	}, []string{metricsLabelResponseErrorDomain, metricsLabelResponseErrorCode})
	prometheus.MustRegister(c)
	metricsResponseErrors.Store(c)
}

// UnregisterMetrics unregisters restapi global metrics.
func UnregisterMetrics() {
	if c := metricsResponseErrors.Swap(nil); c != nil {
		prometheus.Unregister(c)
	}
}
