/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-offlinecache/cachestorage"
	"github.com/acronis/go-offlinecache/httpserver/middleware"
	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/restapi"
	"github.com/acronis/go-offlinecache/swhost"
)

// AdminAPIPrefix is the path prefix of the admin API.
const AdminAPIPrefix = "/api/offlinecache/v1"

// CacheInfo describes a cache bucket.
type CacheInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

// CacheEntryInfo describes an entry of a cache bucket.
type CacheEntryInfo struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// CacheDetails describes a cache bucket along with its entries.
type CacheDetails struct {
	Name    string           `json:"name"`
	Entries []CacheEntryInfo `json:"entries"`
}

// SyncRequest is the body of the sync request.
type SyncRequest struct {
	Tag string `json:"tag"`
}

// Registry is the part of the registration used by the server.
// Proxied requests go through RoundTrip.
type Registry interface {
	http.RoundTripper
	Info() swhost.Info
	Sync(ctx context.Context, tag string) error
	ReleaseClient(ctx context.Context, clientID string)
}

// UpdateChecker runs one update check.
type UpdateChecker interface {
	Run(ctx context.Context) error
}

type adminHandler struct {
	registry    Registry
	storage     cachestorage.Storage
	updater     UpdateChecker
	errorDomain string
	logger      log.FieldLogger
}

// adminRoutes returns routes of the admin API. Update requests are answered with 404 if updater is nil.
func adminRoutes(
	registry Registry, storage cachestorage.Storage, updater UpdateChecker, errorDomain string, logger log.FieldLogger,
) func(r chi.Router) {
	h := &adminHandler{registry: registry, storage: storage, updater: updater, errorDomain: errorDomain, logger: logger}
	return func(r chi.Router) {
		r.Get("/registration", h.getRegistration)
		r.Get("/caches", h.listCaches)
		r.Get("/caches/{name}", h.getCache)
		r.Delete("/caches/{name}", h.deleteCache)
		r.Delete("/clients/{id}", h.releaseClient)
		r.Post("/sync", h.sync)
		r.Post("/update", h.update)
	}
}

func (h *adminHandler) requestLogger(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return h.logger
}

func (h *adminHandler) getRegistration(rw http.ResponseWriter, r *http.Request) {
	restapi.RespondJSON(rw, h.registry.Info(), h.requestLogger(r))
}

func (h *adminHandler) listCaches(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	names, err := h.storage.Keys(r.Context())
	if err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
		return
	}
	caches := make([]CacheInfo, 0, len(names))
	for _, name := range names {
		bucket, err := h.storage.Open(r.Context(), name)
		if err != nil {
			restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
			return
		}
		n, err := bucket.Len(r.Context())
		if err != nil {
			restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
			return
		}
		caches = append(caches, CacheInfo{Name: name, Entries: n})
	}
	restapi.RespondJSON(rw, caches, logger)
}

func (h *adminHandler) getCache(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	name := chi.URLParam(r, "name")
	exists, err := h.storage.Has(r.Context(), name)
	if err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
		return
	}
	if !exists {
		h.respondCacheNotFound(rw, name, logger)
		return
	}
	bucket, err := h.storage.Open(r.Context(), name)
	if err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
		return
	}
	keys, err := bucket.Keys(r.Context())
	if err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
		return
	}
	details := CacheDetails{Name: name, Entries: make([]CacheEntryInfo, 0, len(keys))}
	for _, key := range keys {
		details.Entries = append(details.Entries, CacheEntryInfo{Method: key.Method, URL: key.URL})
	}
	restapi.RespondJSON(rw, details, logger)
}

func (h *adminHandler) deleteCache(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	name := chi.URLParam(r, "name")
	deleted, err := h.storage.Delete(r.Context(), name)
	if err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
		return
	}
	if !deleted {
		h.respondCacheNotFound(rw, name, logger)
		return
	}
	logger.Info("cache deleted", log.String("cache", name))
	rw.WriteHeader(http.StatusNoContent)
}

func (h *adminHandler) releaseClient(rw http.ResponseWriter, r *http.Request) {
	h.registry.ReleaseClient(r.Context(), chi.URLParam(r, "id"))
	rw.WriteHeader(http.StatusNoContent)
}

func (h *adminHandler) sync(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	var req SyncRequest
	if err := restapi.DecodeRequestJSON(rw, r, &req); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
		return
	}
	if req.Tag == "" {
		restapi.RespondMalformedRequestError(rw, h.errorDomain,
			&restapi.MalformedRequestError{HTTPStatusCode: http.StatusBadRequest, Message: "Sync tag is required."}, logger)
		return
	}
	if err := h.registry.Sync(r.Context(), req.Tag); err != nil {
		if errors.Is(err, swhost.ErrNoActiveWorker) {
			restapi.RespondKnownError(rw, restapi.NewError(h.errorDomain, restapi.ErrCodeNoActiveWorker, ""), logger)
			return
		}
		restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (h *adminHandler) update(rw http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	if h.updater == nil {
		restapi.RespondKnownError(rw, restapi.NewNotFoundError(h.errorDomain), logger)
		return
	}
	if err := h.updater.Run(r.Context()); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, logger)
		return
	}
	restapi.RespondJSON(rw, h.registry.Info(), logger)
}

func (h *adminHandler) respondCacheNotFound(rw http.ResponseWriter, name string, logger log.FieldLogger) {
	restapi.RespondKnownError(rw, restapi.NewNotFoundError(h.errorDomain).AddContext("cache", name), logger)
}
