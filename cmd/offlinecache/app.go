/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/acronis/go-offlinecache/cachestorage"
	"github.com/acronis/go-offlinecache/config"
	"github.com/acronis/go-offlinecache/httpclient"
	"github.com/acronis/go-offlinecache/httpserver"
	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/profserver"
	"github.com/acronis/go-offlinecache/restapi"
	"github.com/acronis/go-offlinecache/retry"
	"github.com/acronis/go-offlinecache/swcache"
	"github.com/acronis/go-offlinecache/swhost"
)

const (
	envVarsPrefix    = "OFFLINECACHE"
	metricsNamespace = "offlinecache"
	userAgent        = "offlinecache"
)

const (
	storagePingInitialInterval = 500 * time.Millisecond
	storagePingMaxAttempts     = 5
)

type appConfig struct {
	Log      *log.Config
	Server   *httpserver.Config
	Storage  *cachestorage.Config
	Host     *swhost.Config
	Cache    *swcache.Config
	Network  *httpclient.Config
	Profiler *profserver.Config
}

func newAppConfig() *appConfig {
	return &appConfig{
		Log:      log.NewConfig(),
		Server:   httpserver.NewConfig(),
		Storage:  cachestorage.NewConfig(),
		Host:     swhost.NewConfig(),
		Cache:    swcache.NewConfig(),
		Network:  httpclient.NewConfig(),
		Profiler: profserver.NewConfig(),
	}
}

func loadAppConfig(path string) (*appConfig, error) {
	cfg := newAppConfig()
	err := config.NewDefaultLoader(envVarsPrefix).LoadFromFile(path, "",
		cfg.Log, cfg.Server, cfg.Storage, cfg.Host, cfg.Cache, cfg.Network, cfg.Profiler)
	if err != nil {
		return nil, fmt.Errorf("load configuration from %q: %w", path, err)
	}
	return cfg, nil
}

// loadCacheConfig re-reads the cache section only. It's used to pick up a new cache version.
func loadCacheConfig(path string) (*swcache.Config, error) {
	cfg := swcache.NewConfig()
	if err := config.NewDefaultLoader(envVarsPrefix).LoadFromFile(path, "", cfg); err != nil {
		return nil, fmt.Errorf("load cache configuration from %q: %w", path, err)
	}
	return cfg, nil
}

type app struct {
	cfg      *appConfig
	cfgPath  string
	logger   log.FieldLogger
	closeLog log.CloseFunc

	storage      cachestorage.Storage
	client       *http.Client
	registration *swhost.Registration

	storageMetrics *cachestorage.PrometheusMetrics
	cacheMetrics   *swcache.PrometheusMetrics
	networkMetrics *httpclient.PrometheusMetricsCollector

	mu       sync.Mutex
	managers map[string]*swcache.Manager // by cache version
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := loadAppConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, closeLog := log.NewLogger(cfg.Log)
	a, err := newAppWithConfig(cfg, logger)
	if err != nil {
		closeLog()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.closeLog = closeLog
	return a, nil
}

func newAppWithConfig(cfg *appConfig, logger log.FieldLogger) (*app, error) {
	a := &app{
		cfg:            cfg,
		logger:         logger,
		storageMetrics: cachestorage.NewPrometheusMetricsWithOpts(cachestorage.PrometheusMetricsOpts{Namespace: metricsNamespace}),
		cacheMetrics:   swcache.NewPrometheusMetrics(metricsNamespace),
		networkMetrics: httpclient.NewPrometheusMetricsCollector(metricsNamespace),
		managers:       make(map[string]*swcache.Manager),
	}

	var err error
	if a.storage, err = cachestorage.NewStorage(cfg.Storage, a.storageMetrics); err != nil {
		return nil, fmt.Errorf("create cache storage: %w", err)
	}

	a.client, err = httpclient.New(cfg.Network, httpclient.Opts{
		UserAgent:        userAgent,
		Logger:           logger,
		MetricsCollector: a.networkMetrics,
	})
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("create network client: %w", err)
	}

	regOpts := cfg.Host.RegistrationOpts()
	regOpts.Network = a.client.Transport
	a.registration = swhost.NewRegistration(logger, regOpts)
	return a, nil
}

// waitStorage waits until the storage answers pings. Storages without ping are ready immediately.
func (a *app) waitStorage(ctx context.Context) error {
	pinger, ok := a.storage.(httpserver.Pinger)
	if !ok {
		return nil
	}
	notify := func(err error, attempt int, delay time.Duration) {
		a.logger.Warn("cache storage is not ready, retrying",
			log.Int("attempt", attempt), log.Duration("delay", delay), log.Error(err))
	}
	if err := retry.Do(ctx, retry.NewExponentialPolicy(storagePingInitialInterval, storagePingMaxAttempts),
		nil, notify, pinger.Ping); err != nil {
		return fmt.Errorf("ping cache storage: %w", err)
	}
	return nil
}

// createManager creates a cache manager that is not tracked for pending writes.
func (a *app) createManager(cacheCfg *swcache.Config) (*swcache.Manager, error) {
	manager, err := swcache.NewManager(cacheCfg, a.storage, a.logger, swcache.ManagerOpts{
		Client:           a.client,
		MetricsCollector: a.cacheMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache manager: %w", err)
	}
	return manager, nil
}

// newManager creates a cache manager that is going to be registered.
// A manager created earlier for the same version (e.g. one whose installation failed) is replaced.
func (a *app) newManager(cacheCfg *swcache.Config) (*swcache.Manager, error) {
	manager, err := a.createManager(cacheCfg)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	replaced := a.managers[manager.Version()]
	a.managers[manager.Version()] = manager
	a.mu.Unlock()
	if replaced != nil {
		replaced.Wait()
	}
	return manager, nil
}

// registerCurrent installs and activates the configured cache version.
func (a *app) registerCurrent(ctx context.Context) (*swhost.Worker, error) {
	manager, err := a.newManager(a.cfg.Cache)
	if err != nil {
		return nil, err
	}
	return a.registration.Register(ctx, manager.Version(), manager)
}

// updateSource re-reads the configuration file and reports the cache version it names.
func (a *app) updateSource() swhost.Source {
	return swhost.SourceFunc(func(ctx context.Context) (string, swhost.Handler, error) {
		cacheCfg := a.cfg.Cache
		if a.cfgPath != "" {
			var err error
			if cacheCfg, err = loadCacheConfig(a.cfgPath); err != nil {
				return "", nil, err
			}
		}
		info := a.registration.Info()
		if (info.Active != nil && info.Active.Version == cacheCfg.Version) ||
			(info.Waiting != nil && info.Waiting.Version == cacheCfg.Version) {
			return cacheCfg.Version, nil, nil
		}
		manager, err := a.newManager(cacheCfg)
		if err != nil {
			return "", nil, err
		}
		return manager.Version(), manager, nil
	})
}

func (a *app) mustRegisterMetrics() {
	a.storageMetrics.MustRegister()
	a.cacheMetrics.MustRegister()
	a.networkMetrics.MustRegister()
	restapi.MustInitAndRegisterMetrics(metricsNamespace)
}

func (a *app) unregisterMetrics() {
	restapi.UnregisterMetrics()
	a.networkMetrics.Unregister()
	a.cacheMetrics.Unregister()
	a.storageMetrics.Unregister()
}

// waitPendingWrites blocks until all managers finish storing fetched responses.
func (a *app) waitPendingWrites() {
	a.mu.Lock()
	managers := make([]*swcache.Manager, 0, len(a.managers))
	for _, m := range a.managers {
		managers = append(managers, m)
	}
	a.mu.Unlock()
	for _, m := range managers {
		m.Wait()
	}
}

func (a *app) closeStorage() {
	if closer, ok := a.storage.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("closing cache storage failed", log.Error(err))
		}
	}
}

func (a *app) close() {
	a.waitPendingWrites()
	a.closeStorage()
	if a.closeLog != nil {
		a.closeLog()
	}
}
