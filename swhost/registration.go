/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package swhost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/acronis/go-offlinecache/log"
)

// DefaultClientIDHeader is the request header that identifies a client.
const DefaultClientIDHeader = "X-Client-ID"

// ErrNoResponse is returned by RoundTrip when the controlling worker produced no response.
var ErrNoResponse = errors.New("worker returned no response")

// ErrNoActiveWorker is returned when an event requires an active worker but there is none.
var ErrNoActiveWorker = errors.New("no active worker")

// RegistrationOpts represents options for Registration.
type RegistrationOpts struct {
	// ClientIDHeader is the request header carrying the client id. DefaultClientIDHeader is used if empty.
	ClientIDHeader string

	// Network is used for requests of uncontrolled clients. http.DefaultTransport is used if nil.
	Network http.RoundTripper
}

// Registration owns the workers of one scope and routes client requests to them.
// Lifecycle jobs (install, activate) are serialised.
type Registration struct {
	clientIDHeader string
	network        http.RoundTripper
	logger         log.FieldLogger

	jobMu sync.Mutex

	mu         sync.RWMutex
	installing *Worker
	waiting    *Worker
	active     *Worker
	clients    map[string]*Worker // nil value means an uncontrolled client
}

var _ http.RoundTripper = (*Registration)(nil)

// NewRegistration creates a new registration without workers.
func NewRegistration(logger log.FieldLogger, opts RegistrationOpts) *Registration {
	if opts.ClientIDHeader == "" {
		opts.ClientIDHeader = DefaultClientIDHeader
	}
	if opts.Network == nil {
		opts.Network = http.DefaultTransport
	}
	return &Registration{
		clientIDHeader: opts.ClientIDHeader,
		network:        opts.Network,
		logger:         logger,
		clients:        make(map[string]*Worker),
	}
}

// Register installs a new worker for the version.
// If the installation fails, the worker becomes redundant and the error is returned;
// the active worker, if any, keeps serving.
// The installed worker is activated at once when there is no active worker
// or it called InstallEvent.SkipWaiting, otherwise it waits until the active worker has no clients.
func (r *Registration) Register(ctx context.Context, version string, handler Handler) (*Worker, error) {
	r.jobMu.Lock()
	defer r.jobMu.Unlock()

	w := newWorker(version, handler)
	logger := r.logger.With(log.String("version", version), log.String("worker", w.id))

	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()

	logger.Info("installing worker")
	e := &InstallEvent{Version: version}
	if err := handler.OnInstall(ctx, e); err != nil {
		r.mu.Lock()
		w.state = StateRedundant
		r.installing = nil
		r.mu.Unlock()
		logger.Error("worker installation failed", log.Error(err))
		return w, fmt.Errorf("install worker %q: %w", version, err)
	}

	r.mu.Lock()
	w.state = StateInstalled
	w.installedAt = time.Now().UTC()
	r.installing = nil
	activateNow := r.active == nil || e.skipWaiting.Load()
	if !activateNow {
		if r.waiting != nil {
			r.waiting.state = StateRedundant
		}
		r.waiting = w
	}
	r.mu.Unlock()

	if !activateNow {
		logger.Info("worker installed, waiting for clients of the active worker to be released")
		return w, nil
	}
	r.activate(ctx, w, logger)
	return w, nil
}

// activate must be called with jobMu held.
func (r *Registration) activate(ctx context.Context, w *Worker, logger log.FieldLogger) {
	r.mu.Lock()
	prev := r.active
	if prev != nil {
		prev.state = StateRedundant
	}
	if r.waiting == w {
		r.waiting = nil
	}
	w.state = StateActivating
	r.active = w
	for id, controller := range r.clients {
		if controller != nil && controller == prev {
			r.clients[id] = w
		}
	}
	r.mu.Unlock()

	logger.Info("activating worker")
	e := &ActivateEvent{Version: w.version}
	if err := w.handler.OnActivate(ctx, e); err != nil {
		logger.Error("worker activation handler failed", log.Error(err))
	}

	r.mu.Lock()
	w.state = StateActivated
	claimed := 0
	if e.claim.Load() {
		for id := range r.clients {
			r.clients[id] = w
			claimed++
		}
	}
	r.mu.Unlock()

	if prev != nil {
		logger.Info("worker activated", log.String("replaced_version", prev.version), log.Int("claimed_clients", claimed))
		return
	}
	logger.Info("worker activated", log.Int("claimed_clients", claimed))
}

// RoundTrip routes the request of a client to its controlling worker.
// Requests of uncontrolled clients go straight to the network.
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	clientID := req.Header.Get(r.clientIDHeader)
	controller := r.controllerFor(clientID)
	if controller == nil {
		return r.network.RoundTrip(req)
	}
	resp, err := controller.handler.OnFetch(&FetchEvent{Request: req, ClientID: clientID})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNoResponse
	}
	return resp, nil
}

// controllerFor returns the worker controlling the client.
// A first-seen client is controlled by the active worker at the moment it appears.
// Requests without a client id are treated as coming from a new client every time.
func (r *Registration) controllerFor(clientID string) *Worker {
	if clientID == "" {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.active
	}

	r.mu.RLock()
	controller, known := r.clients[clientID]
	r.mu.RUnlock()
	if known {
		return controller
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if controller, known = r.clients[clientID]; known {
		return controller
	}
	r.clients[clientID] = r.active
	return r.active
}

// ReleaseClient forgets the client.
// When the active worker has no clients left, the waiting worker is activated.
func (r *Registration) ReleaseClient(ctx context.Context, clientID string) {
	r.jobMu.Lock()
	defer r.jobMu.Unlock()

	r.mu.Lock()
	delete(r.clients, clientID)
	waiting := r.waiting
	promote := waiting != nil && !r.hasClientsLocked(r.active)
	r.mu.Unlock()

	if promote {
		r.activate(ctx, waiting, r.logger.With(log.String("version", waiting.version), log.String("worker", waiting.id)))
	}
}

func (r *Registration) hasClientsLocked(w *Worker) bool {
	for _, controller := range r.clients {
		if controller != nil && controller == w {
			return true
		}
	}
	return false
}

// Sync dispatches a sync event with the tag to the active worker.
func (r *Registration) Sync(ctx context.Context, tag string) error {
	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()
	if active == nil {
		return ErrNoActiveWorker
	}
	return active.handler.OnSync(ctx, &SyncEvent{Tag: tag})
}

// Active returns the active worker or nil.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Info is a snapshot of the registration state.
type Info struct {
	Installing        *WorkerInfo `json:"installing,omitempty"`
	Waiting           *WorkerInfo `json:"waiting,omitempty"`
	Active            *WorkerInfo `json:"active,omitempty"`
	Clients           int         `json:"clients"`
	ControlledClients int         `json:"controlledClients"`
}

// Info returns a snapshot of the registration state.
func (r *Registration) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := Info{
		Installing: r.installing.info(),
		Waiting:    r.waiting.info(),
		Active:     r.active.info(),
		Clients:    len(r.clients),
	}
	for _, controller := range r.clients {
		if controller != nil {
			info.ControlledClients++
		}
	}
	return info
}

// State returns the current state of the worker.
func (r *Registration) State(w *Worker) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return w.state
}
