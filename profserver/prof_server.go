/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides an optional HTTP server exposing pprof handlers of the process.
package profserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-offlinecache/httpserver/middleware"
	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/service"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// ProfServer serves pprof handlers under /debug/pprof/.
// It implements service.Unit interface.
type ProfServer struct {
	HTTPServer *http.Server
	Logger     log.FieldLogger

	listener net.Listener
	addr     atomic.Pointer[string]
	done     atomic.Pointer[chan struct{}]
}

var _ service.Unit = (*ProfServer)(nil)

// New creates a new profiling server.
func New(cfg *Config, logger log.FieldLogger) *ProfServer {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.LoggingWithOpts(logger, middleware.LoggingOpts{RequestStart: true}),
		middleware.Recovery("OfflineCacheProfiler"),
	)
	router.Mount("/debug", chimiddleware.Profiler())

	return &ProfServer{
		HTTPServer: &http.Server{Addr: cfg.Address, Handler: router, ReadHeaderTimeout: readHeaderTimeout},
		Logger:     logger.With(log.String("address", cfg.Address)),
	}
}

// Addr returns the address the server listens on. It's empty until the server is started.
func (s *ProfServer) Addr() string {
	if addr := s.addr.Load(); addr != nil {
		return *addr
	}
	return ""
}

// Start starts the server in a blocking way. It's supposed to be called in a separate goroutine.
// If a fatal error occurs, it's sent into the fatalError channel.
func (s *ProfServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.done.Store(&done)

	s.Logger.Info("starting profiling HTTP server...")
	listener, err := net.Listen("tcp", s.HTTPServer.Addr)
	if err != nil {
		s.Logger.Error("profiling HTTP server error", log.Error(err))
		fatalError <- err
		return
	}
	addr := listener.Addr().String()
	s.addr.Store(&addr)

	if err = s.HTTPServer.Serve(listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.Logger.Info("profiling HTTP server closed")
			return
		}
		s.Logger.Error("profiling HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop stops the server. Profiles being collected are interrupted unless stopping gracefully.
func (s *ProfServer) Stop(gracefully bool) error {
	var err error
	if gracefully {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.Logger.Info("shutting down profiling HTTP server...")
		err = s.HTTPServer.Shutdown(ctx)
	} else {
		s.Logger.Info("closing profiling HTTP server...")
		err = s.HTTPServer.Close()
	}
	if err != nil {
		s.Logger.Error("profiling HTTP server stopping error", log.Error(err))
		return err
	}
	if done := s.done.Load(); done != nil {
		<-*done
	}
	return nil
}
