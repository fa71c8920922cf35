/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import "context"

type ctxKey int

const (
	ctxKeyRequestType ctxKey = iota
	ctxKeyIdempotentHint
)

// NewContextWithRequestType creates a new context with request type.
// Request type is used in logs and metrics of outgoing requests.
func NewContextWithRequestType(ctx context.Context, requestType string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestType, requestType)
}

// GetRequestTypeFromContext extracts request type from the context.
func GetRequestTypeFromContext(ctx context.Context) string {
	value, _ := ctx.Value(ctxKeyRequestType).(string)
	return value
}

// NewContextWithIdempotentHint returns a derived context that marks the request as safe to retry
// even if its method is not GET, HEAD or OPTIONS.
func NewContextWithIdempotentHint(ctx context.Context, isIdempotent bool) context.Context {
	return context.WithValue(ctx, ctxKeyIdempotentHint, isIdempotent)
}

// GetIdempotentHintFromContext extracts the idempotent hint from context. Returns false when it's not present.
func GetIdempotentHintFromContext(ctx context.Context) bool {
	value, _ := ctx.Value(ctxKeyIdempotentHint).(bool)
	return value
}
