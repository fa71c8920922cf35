/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package swhost

import (
	"time"

	"github.com/rs/xid"
)

// State is a lifecycle state of a worker.
type State string

// Worker states.
const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Worker is a registered version of the handler.
// Its state is guarded by the owning Registration.
type Worker struct {
	id          string
	version     string
	handler     Handler
	state       State
	installedAt time.Time
}

func newWorker(version string, handler Handler) *Worker {
	return &Worker{id: xid.New().String(), version: version, handler: handler, state: StateInstalling}
}

// ID returns the unique worker id.
func (w *Worker) ID() string {
	return w.id
}

// Version returns the version the worker was registered with.
func (w *Worker) Version() string {
	return w.version
}

// WorkerInfo is a snapshot of worker attributes.
type WorkerInfo struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	State       State     `json:"state"`
	InstalledAt time.Time `json:"installedAt,omitempty"`
}

func (w *Worker) info() *WorkerInfo {
	if w == nil {
		return nil
	}
	return &WorkerInfo{ID: w.id, Version: w.version, State: w.state, InstalledAt: w.installedAt}
}
