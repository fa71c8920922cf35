/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/acronis/go-offlinecache/httpserver"
	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/profserver"
	"github.com/acronis/go-offlinecache/service"
	"github.com/acronis/go-offlinecache/swhost"
)

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the offline cache proxy server",
		Long: "Install the configured cache version, serve the application cache-first " +
			"and periodically check the configuration for a new cache version",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.waitStorage(ctx); err != nil {
		return err
	}

	a.mustRegisterMetrics()
	defer a.unregisterMetrics()

	// Without an active worker requests go straight to the network, and the updater retries the installation.
	if _, err := a.registerCurrent(ctx); err != nil {
		a.logger.Error("cache installation failed, serving from network", log.Error(err))
	}

	srv, err := a.newServer()
	if err != nil {
		return err
	}
	units := []service.Unit{srv}
	if a.cfg.Profiler.Enabled {
		units = append(units, profserver.New(a.cfg.Profiler, a.logger))
	}
	if interval := time.Duration(a.cfg.Host.UpdateInterval); interval > 0 {
		updater := swhost.NewUpdater(a.registration, a.updateSource(), a.logger)
		units = append(units, service.NewWorkerUnit(service.NewPeriodicWorker(updater, interval, a.logger)))
	}
	return service.New(a.logger, service.NewCompositeUnit(units...)).Run(ctx)
}

func (a *app) newServer() (*httpserver.HTTPServer, error) {
	scope, err := url.Parse(a.cfg.Cache.Scope)
	if err != nil {
		return nil, fmt.Errorf("parse scope: %w", err)
	}
	srv, err := httpserver.New(a.cfg.Server, a.logger, httpserver.Opts{
		Registration:     a.registration,
		Storage:          a.storage,
		Updater:          swhost.NewUpdater(a.registration, a.updateSource(), a.logger),
		Scope:            scope,
		MetricsNamespace: metricsNamespace,
		ClientIDHeader:   a.cfg.Host.ClientIDHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("create HTTP server: %w", err)
	}
	return srv, nil
}
