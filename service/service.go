/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs long-living parts of the application (HTTP server, background workers)
// as units that are started together and stopped gracefully on shutdown signals.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/acronis/go-offlinecache/log"
)

// Unit is a long-living part of the service: the HTTP server, a background worker.
type Unit interface {
	// Start may block for the whole unit lifetime. A fatal error (e.g. the listen address is busy)
	// is written to fatalErr at most once.
	Start(fatalErr chan<- error)

	// Stop may be called even if Start failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units owning Prometheus collectors.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}

// Opts represents an options for Service.
type Opts struct {
	// ShutdownSignals stop the service gracefully. SIGINT and SIGTERM are used if empty.
	ShutdownSignals []os.Signal
}

// Service starts a unit and stops it gracefully on a shutdown signal or context cancellation.
// Metrics of the unit are registered for the lifetime of the service.
type Service struct {
	unit   Unit
	logger log.FieldLogger
	opts   Opts
}

// New creates new Service which will start and stop passing unit.
func New(logger log.FieldLogger, unit Unit) *Service {
	return NewWithOpts(logger, unit, Opts{})
}

// NewWithOpts is a more configurable version of New.
func NewWithOpts(logger log.FieldLogger, unit Unit, opts Opts) *Service {
	if len(opts.ShutdownSignals) == 0 {
		opts.ShutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	return &Service{unit: unit, logger: logger, opts: opts}
}

// Run starts the unit in a separate goroutine and blocks until it fails,
// ctx is done or one of the shutdown signals is received.
func (s *Service) Run(ctx context.Context) error {
	if mr, ok := s.unit.(MetricsRegisterer); ok {
		mr.MustRegisterMetrics()
		defer mr.UnregisterMetrics()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, s.opts.ShutdownSignals...)
	defer signal.Stop(signals)

	fatalErr := make(chan error, 1)
	go s.unit.Start(fatalErr)

	select {
	case err := <-fatalErr:
		s.logger.Error("service fatal error", log.Error(err))
		return fmt.Errorf("fatal error: %w", err)
	case sig := <-signals:
		s.logger.Info("service got signal, stopping", log.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("context is canceled, service will be stopped")
	}

	if err := s.unit.Stop(true); err != nil {
		return fmt.Errorf("stop service gracefully: %w", err)
	}
	s.logger.Info("service stopped")
	return nil
}
