/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/acronis/go-offlinecache/cachestorage"
	"github.com/acronis/go-offlinecache/httpserver/middleware"
	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/restapi"
)

// StatusClientClosedRequest is a non-standard status (introduced by Nginx) for requests
// closed by the client before the response was sent.
const StatusClientClosedRequest = 499

// HealthCheckStatus is a resulting status of the health-check.
type HealthCheckStatus int

// Health-check statuses.
const (
	HealthCheckStatusOK HealthCheckStatus = iota
	HealthCheckStatusFail
)

// HealthCheckResult maps component names to their statuses.
type HealthCheckResult = map[string]HealthCheckStatus

// HealthCheck checks components of the service.
type HealthCheck = func(ctx context.Context) (HealthCheckResult, error)

// Pinger is implemented by components that can check their connectivity (e.g. Redis cache storage).
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStorageHealthCheck returns a health-check of the "storage" component.
// Storages that don't implement Pinger are always healthy.
func NewStorageHealthCheck(storage cachestorage.Storage, logger log.FieldLogger) HealthCheck {
	return func(ctx context.Context) (HealthCheckResult, error) {
		pinger, ok := storage.(Pinger)
		if !ok {
			return HealthCheckResult{"storage": HealthCheckStatusOK}, nil
		}
		if err := pinger.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("cache storage is unhealthy", log.Error(err))
			return HealthCheckResult{"storage": HealthCheckStatusFail}, nil
		}
		return HealthCheckResult{"storage": HealthCheckStatusOK}, nil
	}
}

type healthCheckResponseData struct {
	Components map[string]bool `json:"components"`
}

// HealthCheckHandler implements http.Handler and does health-check of a service.
type HealthCheckHandler struct {
	check HealthCheck
}

// NewHealthCheckHandler creates a new http.Handler for doing health-check.
// A nil check reports an empty set of healthy components.
func NewHealthCheckHandler(check HealthCheck) *HealthCheckHandler {
	if check == nil {
		check = func(ctx context.Context) (HealthCheckResult, error) {
			return HealthCheckResult{}, ctx.Err()
		}
	}
	return &HealthCheckHandler{check}
}

// ServeHTTP responds with 200 when all components are healthy and with 503 otherwise.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())
	result, err := h.check(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
			return
		}
		if logger != nil {
			logger.Error("error while checking health", log.Error(err))
		}
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	respData := healthCheckResponseData{Components: make(map[string]bool, len(result))}
	for name, componentStatus := range result {
		respData.Components[name] = componentStatus == HealthCheckStatusOK
		if componentStatus != HealthCheckStatusOK {
			status = http.StatusServiceUnavailable
		}
	}
	restapi.RespondCodeAndJSON(rw, status, respData, logger)
}
