/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package retry provides backoff policies and a helper for retrying operations with them.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy produces a fresh backoff sequence for every retried operation.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as retry.Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements retry.Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// NotifyFunc is called before every retry attempt with the error of the previous one and the delay before the next.
type NotifyFunc func(err error, attempt int, delay time.Duration)

// Do calls fn until it succeeds, the policy stops, ctx is done, or isRetryable reports the error as permanent.
// A nil isRetryable retries any error.
func Do(ctx context.Context, p Policy, isRetryable func(error) bool, notify NotifyFunc, fn func(context.Context) error) error {
	bctx := backoff.WithContext(p.NewBackOff(), ctx)
	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	var bnotify backoff.Notify
	if notify != nil {
		bnotify = func(err error, delay time.Duration) { notify(err, attempt, delay) }
	}
	return backoff.RetryNotify(op, bctx, bnotify)
}

// ExponentialPolicy retries with exponentially growing delays.
// MaxAttempts limits the number of retries (not counting the first call); zero means no limit.
type ExponentialPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
}

// NewExponentialPolicy returns an exponential policy with the default multiplier and max interval.
func NewExponentialPolicy(initialInterval time.Duration, maxAttempts int) ExponentialPolicy {
	return ExponentialPolicy{InitialInterval: initialInterval, MaxAttempts: maxAttempts}
}

// NewBackOff implements retry.Policy.
func (p ExponentialPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	return withMaxAttempts(eb, p.MaxAttempts)
}

// ConstantPolicy retries with the same delay between attempts.
type ConstantPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// NewConstantPolicy returns a constant policy.
func NewConstantPolicy(interval time.Duration, maxAttempts int) ConstantPolicy {
	return ConstantPolicy{Interval: interval, MaxAttempts: maxAttempts}
}

// NewBackOff implements retry.Policy.
func (p ConstantPolicy) NewBackOff() backoff.BackOff {
	return withMaxAttempts(backoff.NewConstantBackOff(p.Interval), p.MaxAttempts)
}

func withMaxAttempts(b backoff.BackOff, maxAttempts int) backoff.BackOff {
	if maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(maxAttempts))
	}
	b.Reset()
	return b
}
