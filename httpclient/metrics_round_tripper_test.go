/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-offlinecache/testutil"
)

func TestMetricsRoundTripper(t *testing.T) {
	collector := NewPrometheusMetricsCollector("test")
	rt := NewMetricsRoundTripperWithOpts(statusRoundTripper(http.StatusOK), MetricsRoundTripperOpts{Collector: collector})

	ctx := NewContextWithRequestType(context.Background(), "fetch")
	for i := 0; i < 2; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://cdn.example.com/lib.js", http.NoBody)
		require.NoError(t, err)
		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	hist := collector.Durations.WithLabelValues("fetch", "cdn.example.com", "GET fetch", "200").(prometheus.Histogram)
	testutil.RequireSamplesCountInHistogram(t, hist, 2)
}

func TestMetricsRoundTripper_NetworkError(t *testing.T) {
	collector := NewPrometheusMetricsCollector("test")
	delegate := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("offline")
	})
	rt := NewMetricsRoundTripperWithOpts(delegate, MetricsRoundTripperOpts{
		RequestType: "precache",
		Collector:   collector,
		ClassifyRequest: func(r *http.Request, requestType string) string {
			return requestType + " " + r.URL.Path
		},
	})

	req, err := http.NewRequest(http.MethodGet, "https://app.example.com/index.html", http.NoBody)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req) //nolint:bodyclose
	require.Error(t, err)

	hist := collector.Durations.WithLabelValues("precache", "app.example.com", "precache /index.html", "0").(prometheus.Histogram)
	testutil.RequireSamplesCountInHistogram(t, hist, 1)
}
