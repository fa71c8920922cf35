/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-offlinecache/cachestorage"
	"github.com/acronis/go-offlinecache/httpserver/middleware"
	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/restapi"
	"github.com/acronis/go-offlinecache/swhost"
)

// systemEndpoints are not involved in metrics collecting.
var systemEndpoints = []string{"/metrics", "/healthz"}

// RouterOpts represents options for creating chi.Router.
type RouterOpts struct {
	Registry       Registry
	Storage        cachestorage.Storage
	Updater        UpdateChecker
	Scope          *url.URL
	ErrorDomain    string
	ClientIDHeader string

	// HealthCheck is used by /healthz. Storage health-check is used if nil.
	HealthCheck HealthCheck

	// MetricsHandler serves /metrics. promhttp.Handler() is used if nil.
	MetricsHandler http.Handler

	// MetricsCollector enables HTTP request metrics when not nil.
	MetricsCollector *middleware.HTTPRequestMetricsCollector
}

// NewRouter creates a new chi.Router with middlewares, system endpoints, admin API
// and the catch-all proxy to the application scope.
func NewRouter(cfg *Config, logger log.FieldLogger, opts RouterOpts) chi.Router {
	router := chi.NewRouter()
	applyMiddlewares(router, cfg, logger, opts)
	configureRouter(router, logger, opts)
	return router
}

// nolint // hugeParam: opts is heavy, it's ok in this case.
func applyMiddlewares(router chi.Router, cfg *Config, logger log.FieldLogger, opts RouterOpts) {
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(rw, r.WithContext(middleware.NewContextWithRequestStartTime(r.Context(), time.Now())))
		})
	})

	router.Use(middleware.RequestID())

	clientIDHeader := opts.ClientIDHeader
	if clientIDHeader == "" {
		clientIDHeader = swhost.DefaultClientIDHeader
	}
	router.Use(middleware.ClientID(clientIDHeader))

	router.Use(middleware.LoggingWithOpts(logger, middleware.LoggingOpts{
		RequestStart:         cfg.Log.RequestStart,
		ExcludedEndpoints:    cfg.Log.ExcludedEndpoints,
		SlowRequestThreshold: time.Duration(cfg.Log.SlowRequestThreshold),
	}))

	router.Use(middleware.Recovery(opts.ErrorDomain))

	if opts.MetricsCollector != nil {
		router.Use(middleware.HTTPRequestMetrics(opts.MetricsCollector, middleware.ChiRoutePattern,
			middleware.HTTPRequestMetricsOpts{ExcludedEndpoints: systemEndpoints}))
	}
}

// nolint // hugeParam: opts is heavy, it's ok in this case.
func configureRouter(router chi.Router, logger log.FieldLogger, opts RouterOpts) {
	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	healthCheck := opts.HealthCheck
	if healthCheck == nil && opts.Storage != nil {
		healthCheck = NewStorageHealthCheck(opts.Storage, logger)
	}
	router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(healthCheck))

	router.Route(AdminAPIPrefix, func(r chi.Router) {
		adminRoutes(opts.Registry, opts.Storage, opts.Updater, opts.ErrorDomain, logger)(r)

		r.NotFound(func(rw http.ResponseWriter, r *http.Request) {
			restapi.RespondKnownError(rw, restapi.NewNotFoundError(opts.ErrorDomain), logger)
		})
		r.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
			restapi.RespondKnownError(rw, restapi.NewError(opts.ErrorDomain, restapi.ErrCodeMethodNotAllowed, ""), logger)
		})
	})

	router.Handle("/*", NewProxyHandler(opts.Registry, opts.Scope, opts.ErrorDomain, logger))
}
