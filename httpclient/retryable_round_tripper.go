/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/retry"
)

// Default parameter values for RetryableRoundTripper.
const (
	DefaultMaxRetryAttempts                  = 3
	DefaultExponentialBackoffInitialInterval = 500 * time.Millisecond
)

// RetryAttemptNumberHeader is an HTTP header name that will contain the serial number of the retry attempt.
const RetryAttemptNumberHeader = "X-Retry-Attempt"

// CheckRetryFunc is called right after every attempt and determines if the next retry attempt is needed.
type CheckRetryFunc func(ctx context.Context, req *http.Request, resp *http.Response, roundTripErr error) (bool, error)

// RetryableRoundTripperOpts represents an options for RetryableRoundTripper.
type RetryableRoundTripperOpts struct {
	// Logger is used when LoggerProvider is nil or returns nil.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// MaxRetryAttempts limits the number of retries (the first request is not a retry attempt).
	// DefaultMaxRetryAttempts is used if zero.
	MaxRetryAttempts int

	// CheckRetryFunc is DefaultCheckRetry if nil.
	CheckRetryFunc CheckRetryFunc

	// IgnoreRetryAfter disables honoring the Retry-After response header.
	IgnoreRetryAfter bool

	// BackoffPolicy computes delays between attempts. DefaultBackoffPolicy is used if nil.
	BackoffPolicy retry.Policy
}

// RetryableRoundTripper retries idempotent requests that failed with a temporary error,
// 429 Too Many Requests or a 5xx status.
type RetryableRoundTripper struct {
	Delegate http.RoundTripper
	Opts     RetryableRoundTripperOpts
}

// NewRetryableRoundTripper returns a new instance of RetryableRoundTripper.
func NewRetryableRoundTripper(delegate http.RoundTripper) (*RetryableRoundTripper, error) {
	return NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{})
}

// NewRetryableRoundTripperWithOpts creates a new instance of RetryableRoundTripper with specified options.
func NewRetryableRoundTripperWithOpts(
	delegate http.RoundTripper, opts RetryableRoundTripperOpts,
) (*RetryableRoundTripper, error) {
	if opts.MaxRetryAttempts < 0 {
		return nil, fmt.Errorf("incorrect max retry attempts")
	}
	if opts.MaxRetryAttempts == 0 {
		opts.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.CheckRetryFunc == nil {
		opts.CheckRetryFunc = DefaultCheckRetry
	}
	if opts.BackoffPolicy == nil {
		opts.BackoffPolicy = DefaultBackoffPolicy
	}
	return &RetryableRoundTripper{Delegate: delegate, Opts: opts}, nil
}

// RoundTrip performs request with retry logic.
func (rt *RetryableRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	rewindBody, bodyConsumed, err := makeRequestBodyRewindable(req)
	if err != nil {
		return nil, &RetryableRoundTripperError{Inner: err}
	}

	bf := rt.Opts.BackoffPolicy.NewBackOff()
	attemptReq := req
	for attempt := 0; ; attempt++ {
		if attempt > 0 || bodyConsumed {
			attemptReq = req.Clone(ctx) // Per RoundTripper contract.
			if attempt > 0 {
				attemptReq.Header.Set(RetryAttemptNumberHeader, strconv.Itoa(attempt))
			}
			if attemptReq.Body, err = rewindBody(); err != nil {
				return nil, &RetryableRoundTripperError{Inner: err}
			}
		}

		resp, roundTripErr := rt.Delegate.RoundTrip(attemptReq)

		needRetry, checkErr := rt.Opts.CheckRetryFunc(ctx, attemptReq, resp, roundTripErr)
		if checkErr != nil {
			rt.logger(ctx).Error(fmt.Sprintf("failed to check if retry is needed, %d request(s) done", attempt+1),
				log.Error(checkErr))
			return resp, roundTripErr
		}
		if !needRetry {
			return resp, roundTripErr
		}
		if attempt >= rt.Opts.MaxRetryAttempts {
			rt.logger(ctx).Warnf("max retry attempts exceeded (%d), %d request(s) done",
				rt.Opts.MaxRetryAttempts, attempt+1)
			return resp, roundTripErr
		}
		waitTime, ok := rt.nextWaitTime(bf, resp)
		if !ok {
			return resp, roundTripErr
		}

		if resp != nil {
			rt.drainResponseBody(ctx, resp)
		}
		rt.logger(ctx).Debug(fmt.Sprintf("retrying %s %s in %s", req.Method, req.URL.Redacted(), waitTime),
			log.Int("attempt", attempt+1))

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (rt *RetryableRoundTripper) nextWaitTime(bf backoff.BackOff, resp *http.Response) (time.Duration, bool) {
	if resp != nil && !rt.Opts.IgnoreRetryAfter {
		if retryAfter, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return retryAfter, true
		}
	}
	waitTime := bf.NextBackOff()
	return waitTime, waitTime != backoff.Stop
}

func (rt *RetryableRoundTripper) drainResponseBody(ctx context.Context, resp *http.Response) {
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBodySize)); err != nil {
		rt.logger(ctx).Warn("failed to discard previous response body between retry attempts", log.Error(err))
	}
	if err := resp.Body.Close(); err != nil {
		rt.logger(ctx).Warn("failed to close previous response body between retry attempts", log.Error(err))
	}
}

func (rt *RetryableRoundTripper) logger(ctx context.Context) log.FieldLogger {
	if rt.Opts.LoggerProvider != nil {
		if logger := rt.Opts.LoggerProvider(ctx); logger != nil {
			return logger
		}
	}
	return rt.Opts.Logger
}

const maxDrainBodySize = 64 << 10

// RetryableRoundTripperError is returned in RoundTrip method of RetryableRoundTripper
// when the request body could not be prepared for another attempt.
type RetryableRoundTripperError struct {
	Inner error
}

func (e *RetryableRoundTripperError) Error() string {
	return fmt.Sprintf("retryable round trip: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RetryableRoundTripperError) Unwrap() error {
	return e.Inner
}

// DefaultCheckRetry retries idempotent requests (GET, HEAD, OPTIONS or marked with NewContextWithIdempotentHint)
// on temporary network errors, 429 and 5xx statuses except 501 Not Implemented.
func DefaultCheckRetry(
	ctx context.Context, req *http.Request, resp *http.Response, roundTripErr error,
) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	if !isIdempotent(req) {
		return false, nil
	}
	if roundTripErr != nil {
		return CheckErrorIsTemporary(roundTripErr), nil
	}
	if resp == nil {
		return false, fmt.Errorf("both response and round trip error are nil")
	}
	return resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode != http.StatusNotImplemented), nil
}

func isIdempotent(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return GetIdempotentHintFromContext(req.Context())
}

// DefaultBackoffPolicy is a default backoff policy.
var DefaultBackoffPolicy retry.Policy = retry.ExponentialPolicy{
	InitialInterval: DefaultExponentialBackoffInitialInterval,
	Multiplier:      2,
}

// CheckErrorIsTemporary checks either error is temporary or not.
func CheckErrorIsTemporary(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var terr interface{ Temporary() bool }
	return errors.As(err, &terr) && terr.Temporary()
}

// makeRequestBodyRewindable returns a function producing a fresh body for every retry attempt.
// req.GetBody is used when present, otherwise the body is buffered in memory and consumed is true.
func makeRequestBodyRewindable(req *http.Request) (getBody func() (io.ReadCloser, error), consumed bool, err error) {
	if req.Body == nil || req.Body == http.NoBody {
		return func() (io.ReadCloser, error) { return http.NoBody, nil }, false, nil
	}
	if req.GetBody != nil {
		return req.GetBody, false, nil
	}
	buffered, err := io.ReadAll(req.Body)
	_ = req.Body.Close() // Per RoundTripper contract.
	if err != nil {
		return nil, true, fmt.Errorf("read request body before doing first request: %w", err)
	}
	return func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(buffered)), nil }, true, nil
}

func parseRetryAfter(val string) (time.Duration, bool) {
	if val == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(val); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	t, err := http.ParseTime(val)
	if err != nil {
		return 0, false
	}
	if d := time.Until(t); d > 0 {
		return d, true
	}
	return 0, true
}
