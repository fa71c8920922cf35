/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package swhost is the runtime that hosts offline cache workers.
// It drives the worker lifecycle (install, wait, activate, become redundant),
// tracks which worker controls each client and routes client requests
// to the controlling worker's fetch handler.
package swhost

import (
	"context"
	"net/http"

	"go.uber.org/atomic"
)

// Handler is the set of event handlers a worker registers with the host.
type Handler interface {
	// OnInstall prepares the worker. A returned error fails the installation.
	OnInstall(ctx context.Context, e *InstallEvent) error

	// OnActivate runs when the worker becomes the active one.
	OnActivate(ctx context.Context, e *ActivateEvent) error

	// OnFetch handles a request of a controlled client.
	// Returning (nil, nil) means the worker has no response for the request.
	OnFetch(e *FetchEvent) (*http.Response, error)

	// OnSync handles a background sync event.
	OnSync(ctx context.Context, e *SyncEvent) error
}

// InstallEvent is dispatched to a worker being installed.
type InstallEvent struct {
	Version     string
	skipWaiting atomic.Bool
}

// SkipWaiting asks the host to activate the worker right after installation
// even if another worker is active and still controls clients.
func (e *InstallEvent) SkipWaiting() {
	e.skipWaiting.Store(true)
}

// ActivateEvent is dispatched to a worker being activated.
type ActivateEvent struct {
	Version string
	claim   atomic.Bool
}

// Claim asks the host to make the worker the controller of all known clients,
// including those that were loaded without any worker.
func (e *ActivateEvent) Claim() {
	e.claim.Store(true)
}

// FetchEvent is dispatched for every request of a controlled client.
type FetchEvent struct {
	Request  *http.Request
	ClientID string
}

// Context returns the request context.
func (e *FetchEvent) Context() context.Context {
	return e.Request.Context()
}

// SyncEvent is dispatched when a background sync is requested.
type SyncEvent struct {
	Tag string
}
