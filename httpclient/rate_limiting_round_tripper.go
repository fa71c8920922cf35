/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRateLimitingBurst       = 1
	DefaultRateLimitingWaitTimeout = 15 * time.Second
)

// RateLimitingRoundTripperOpts are optional parameters of RateLimitingRoundTripper. Zero values mean defaults.
type RateLimitingRoundTripperOpts struct {
	Burst       int
	WaitTimeout time.Duration
	// PerHost gives every request host its own limiter, so throttling a slow origin doesn't delay CDN assets.
	PerHost bool
}

// RateLimitingRoundTripper spreads outgoing requests in time (RateLimit requests per second),
// so precaching a large manifest doesn't flood the origin.
type RateLimitingRoundTripper struct {
	Delegate    http.RoundTripper
	RateLimit   int
	Burst       int
	WaitTimeout time.Duration
	PerHost     bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimitingRoundTripper(delegate http.RoundTripper, rateLimit int) (*RateLimitingRoundTripper, error) {
	return NewRateLimitingRoundTripperWithOpts(delegate, rateLimit, RateLimitingRoundTripperOpts{})
}

func NewRateLimitingRoundTripperWithOpts(
	delegate http.RoundTripper, rateLimit int, opts RateLimitingRoundTripperOpts,
) (*RateLimitingRoundTripper, error) {
	switch {
	case rateLimit <= 0:
		return nil, errors.New("rate limit must be positive")
	case opts.Burst < 0:
		return nil, errors.New("burst must be positive")
	}
	rt := &RateLimitingRoundTripper{
		Delegate:    delegate,
		RateLimit:   rateLimit,
		Burst:       opts.Burst,
		WaitTimeout: opts.WaitTimeout,
		PerHost:     opts.PerHost,
		limiters:    make(map[string]*rate.Limiter),
	}
	if rt.Burst == 0 {
		rt.Burst = DefaultRateLimitingBurst
	}
	if rt.WaitTimeout == 0 {
		rt.WaitTimeout = DefaultRateLimitingWaitTimeout
	}
	return rt, nil
}

func (rt *RateLimitingRoundTripper) limiterFor(r *http.Request) *rate.Limiter {
	key := ""
	if rt.PerHost {
		key = r.URL.Host
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	limiter, ok := rt.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rt.RateLimit), rt.Burst)
		rt.limiters[key] = limiter
	}
	return limiter
}

// RoundTrip waits for its turn before sending the request.
// *RateLimitingWaitError is returned when the turn doesn't come within WaitTimeout or the request context is done.
func (rt *RateLimitingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), rt.WaitTimeout)
	defer cancel()

	if err := rt.limiterFor(r).Wait(ctx); err != nil {
		if r.Body != nil {
			_ = r.Body.Close() // RoundTripper must always close the body.
		}
		return nil, &RateLimitingWaitError{Host: r.URL.Host, Inner: err}
	}
	return rt.Delegate.RoundTrip(r)
}

// RateLimitingWaitError means the request was not sent because it could not get its turn.
type RateLimitingWaitError struct {
	Host  string
	Inner error
}

func (e *RateLimitingWaitError) Error() string {
	return fmt.Sprintf("request to %s was not sent due to client side rate limiting: %v", e.Host, e.Inner)
}

func (e *RateLimitingWaitError) Unwrap() error {
	return e.Inner
}
