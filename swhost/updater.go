/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package swhost

import (
	"context"
	"fmt"

	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/service"
)

// Source provides the desired worker version and its handler.
type Source interface {
	Current(ctx context.Context) (version string, handler Handler, err error)
}

// SourceFunc is an adapter to allow the use of ordinary functions as Source.
type SourceFunc func(ctx context.Context) (string, Handler, error)

// Current is a part of Source interface.
func (f SourceFunc) Current(ctx context.Context) (string, Handler, error) {
	return f(ctx)
}

// Updater registers a new worker when the source reports a version
// that is neither active nor waiting.
type Updater struct {
	registration *Registration
	source       Source
	logger       log.FieldLogger
}

var _ service.Worker = (*Updater)(nil)

// NewUpdater creates a new Updater.
func NewUpdater(registration *Registration, source Source, logger log.FieldLogger) *Updater {
	return &Updater{registration: registration, source: source, logger: logger}
}

// Run performs one update check.
func (u *Updater) Run(ctx context.Context) error {
	version, handler, err := u.source.Current(ctx)
	if err != nil {
		return fmt.Errorf("get current worker version: %w", err)
	}

	info := u.registration.Info()
	if (info.Active != nil && info.Active.Version == version) || (info.Waiting != nil && info.Waiting.Version == version) {
		u.logger.Debug("worker is up to date", log.String("version", version))
		return nil
	}

	u.logger.Info("new worker version found", log.String("version", version))
	if _, err = u.registration.Register(ctx, version, handler); err != nil {
		return err
	}
	return nil
}
