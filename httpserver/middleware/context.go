/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"time"

	"github.com/acronis/go-offlinecache/log"
)

// ctxKey is parameterized by the stored type, so each key can only hold values of its own type.
type ctxKey[T any] struct{ name string }

var (
	requestIDKey         = ctxKey[string]{"request-id"}
	internalRequestIDKey = ctxKey[string]{"internal-request-id"}
	clientIDKey          = ctxKey[string]{"client-id"}
	loggerKey            = ctxKey[log.FieldLogger]{"logger"}
	loggingParamsKey     = ctxKey[*LoggingParams]{"logging-params"}
	requestStartTimeKey  = ctxKey[time.Time]{"request-start-time"}
)

func (k ctxKey[T]) with(ctx context.Context, val T) context.Context {
	return context.WithValue(ctx, k, val)
}

// from returns the zero value when ctx has no value for the key.
func (k ctxKey[T]) from(ctx context.Context) T {
	val, _ := ctx.Value(k).(T)
	return val
}

// NewContextWithRequestID stores the request id that came with the request (X-Request-ID) or was generated for it.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return requestIDKey.with(ctx, requestID)
}

func GetRequestIDFromContext(ctx context.Context) string { return requestIDKey.from(ctx) }

// NewContextWithInternalRequestID stores the id that is always generated by this server.
func NewContextWithInternalRequestID(ctx context.Context, internalRequestID string) context.Context {
	return internalRequestIDKey.with(ctx, internalRequestID)
}

func GetInternalRequestIDFromContext(ctx context.Context) string {
	return internalRequestIDKey.from(ctx)
}

// NewContextWithClientID stores the id of the client (browser tab) the request belongs to.
func NewContextWithClientID(ctx context.Context, clientID string) context.Context {
	return clientIDKey.with(ctx, clientID)
}

func GetClientIDFromContext(ctx context.Context) string { return clientIDKey.from(ctx) }

// NewContextWithLogger stores the request-scoped logger.
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return loggerKey.with(ctx, logger)
}

// GetLoggerFromContext returns nil if the Logging middleware didn't run.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger { return loggerKey.from(ctx) }

func NewContextWithLoggingParams(ctx context.Context, loggingParams *LoggingParams) context.Context {
	return loggingParamsKey.with(ctx, loggingParams)
}

func GetLoggingParamsFromContext(ctx context.Context) *LoggingParams {
	return loggingParamsKey.from(ctx)
}

func NewContextWithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return requestStartTimeKey.with(ctx, startTime)
}

// GetRequestStartTimeFromContext returns zero time if the start time wasn't stored.
func GetRequestStartTimeFromContext(ctx context.Context) time.Time {
	return requestStartTimeKey.from(ctx)
}
