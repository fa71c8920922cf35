/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient builds the HTTP client used to reach the network.
// The client is a chain of round trippers: logging, metrics, rate limiting, user agent, request id and retries.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-offlinecache/log"
)

// DefaultRequestType is used in logs and metrics when neither options nor request context define a request type.
const DefaultRequestType = "offlinecache"

// Opts provides options for New and Must functions.
type Opts struct {
	// UserAgent overrides Config.UserAgent.
	UserAgent string

	// RequestType is a default type of outgoing requests (e.g. "precache" or "fetch").
	// It may be overridden per request with NewContextWithRequestType.
	RequestType string

	// Delegate is the innermost RoundTripper of the chain.
	// A clone of http.DefaultTransport is used if nil.
	Delegate http.RoundTripper

	// Logger is used when neither LoggerProvider nor the request context provide a logger.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// RequestIDProvider is a function that provides a request ID.
	RequestIDProvider func(ctx context.Context) string

	// MetricsCollector is used when metrics are enabled in the configuration.
	MetricsCollector MetricsCollector
}

// New builds an HTTP client with the transport chain described by cfg.
func New(cfg *Config, opts Opts) (*http.Client, error) {
	var err error
	delegate := opts.Delegate
	if delegate == nil {
		delegate = http.DefaultTransport.(*http.Transport).Clone()
	}
	if opts.RequestType == "" {
		opts.RequestType = DefaultRequestType
	}

	if cfg.Log.Enabled && cfg.Log.Mode != LoggingModeNone {
		delegate = NewLoggingRoundTripperWithOpts(delegate, LoggingRoundTripperOpts{
			RequestType:          opts.RequestType,
			Logger:               opts.Logger,
			LoggerProvider:       opts.LoggerProvider,
			Mode:                 cfg.Log.Mode,
			SlowRequestThreshold: time.Duration(cfg.Log.SlowRequestThreshold),
		})
	}

	if cfg.Metrics.Enabled && opts.MetricsCollector != nil {
		delegate = NewMetricsRoundTripperWithOpts(delegate, MetricsRoundTripperOpts{
			RequestType: opts.RequestType,
			Collector:   opts.MetricsCollector,
		})
	}

	if cfg.RateLimits.Enabled {
		delegate, err = NewRateLimitingRoundTripperWithOpts(delegate, cfg.RateLimits.Limit, RateLimitingRoundTripperOpts{
			Burst:       cfg.RateLimits.Burst,
			WaitTimeout: time.Duration(cfg.RateLimits.WaitTimeout),
			PerHost:     cfg.RateLimits.PerHost,
		})
		if err != nil {
			return nil, fmt.Errorf("create rate limiting round tripper: %w", err)
		}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = cfg.UserAgent
	}
	if userAgent != "" {
		delegate = NewUserAgentRoundTripper(delegate, userAgent)
	}

	delegate = NewRequestIDRoundTripperWithOpts(delegate, RequestIDRoundTripperOpts{
		RequestIDProvider: opts.RequestIDProvider,
	})

	if cfg.Retries.Enabled {
		delegate, err = NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{
			Logger:           opts.Logger,
			LoggerProvider:   opts.LoggerProvider,
			MaxRetryAttempts: cfg.Retries.MaxAttempts,
			BackoffPolicy:    cfg.Retries.BackoffPolicy(),
		})
		if err != nil {
			return nil, fmt.Errorf("create retryable round tripper: %w", err)
		}
	}

	return &http.Client{Transport: delegate, Timeout: time.Duration(cfg.Timeout)}, nil
}

// Must builds an HTTP client like New does and panics if any error occurs.
func Must(cfg *Config, opts Opts) *http.Client {
	client, err := New(cfg, opts)
	if err != nil {
		panic(err)
	}
	return client
}

func requestTypeOf(r *http.Request, defaultType string) string {
	if reqType := GetRequestTypeFromContext(r.Context()); reqType != "" {
		return reqType
	}
	return defaultType
}
