/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package swcache implements the offline cache manager: a cache-first worker
// that precaches the application shell on install, drops stale cache versions on activation
// and serves intercepted requests from the cache with a fallback to the network.
package swcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/acronis/go-offlinecache/cachestorage"
	"github.com/acronis/go-offlinecache/httpclient"
	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/swhost"
)

// Types of network requests issued by the manager, as reported in logs and metrics of the HTTP client.
const (
	RequestTypePrecache = "precache"
	RequestTypeFetch    = "fetch"
)

// SyncTagData is the sync tag the manager reacts to.
const SyncTagData = "sync-data"

// PrecacheError is returned from OnInstall when an asset cannot be precached.
type PrecacheError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *PrecacheError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("precache %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("precache %s: unexpected status code %d", e.URL, e.StatusCode)
}

func (e *PrecacheError) Unwrap() error {
	return e.Err
}

// ManagerOpts represents options for Manager.
type ManagerOpts struct {
	// Client is used for network requests. http.DefaultClient is used if nil.
	Client *http.Client

	// MetricsCollector collects fetch and precache metrics. It can be nil.
	MetricsCollector MetricsCollector
}

// Manager is a cache-first worker bound to one cache version.
type Manager struct {
	version     string
	scope       *url.URL
	assets      []string
	concurrency int

	storage          cachestorage.Storage
	client           *http.Client
	logger           log.FieldLogger
	metricsCollector MetricsCollector

	pendingWrites sync.WaitGroup
}

var _ swhost.Handler = (*Manager)(nil)

// NewManager creates a new Manager. Relative assets are resolved against the configured scope.
func NewManager(cfg *Config, storage cachestorage.Storage, logger log.FieldLogger, opts ManagerOpts) (*Manager, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("cache version cannot be empty")
	}
	scope, err := parseScope(cfg.Scope)
	if err != nil {
		return nil, fmt.Errorf("parse scope: %w", err)
	}
	assets := make([]string, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		u, err := scope.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("parse asset %q: %w", a, err)
		}
		u.Fragment = ""
		assets = append(assets, u.String())
	}
	concurrency := cfg.PrecacheConcurrency
	if concurrency <= 0 {
		concurrency = DefaultPrecacheConcurrency
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	return &Manager{
		version:          cfg.Version,
		scope:            scope,
		assets:           assets,
		concurrency:      concurrency,
		storage:          storage,
		client:           opts.Client,
		logger:           logger.With(log.String("cache", cfg.Version)),
		metricsCollector: opts.MetricsCollector,
	}, nil
}

// Version returns the name of the cache bucket the manager works with.
func (m *Manager) Version() string {
	return m.version
}

// Assets returns the resolved asset manifest.
func (m *Manager) Assets() []string {
	return append([]string(nil), m.assets...)
}

// OnInstall opens the cache bucket and precaches all assets.
// Nothing is written unless every asset was fetched with a successful (2xx) status.
func (m *Manager) OnInstall(ctx context.Context, e *swhost.InstallEvent) error {
	startTime := time.Now()

	bucket, err := m.storage.Open(ctx, m.version)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	m.logger.Info("cache opened")

	entries := make([]*cachestorage.Entry, len(m.assets))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, asset := range m.assets {
		i, asset := i, asset
		g.Go(func() error {
			entry, err := m.precacheAsset(gCtx, asset)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		m.logger.Error("precaching failed", log.Error(err))
		return err
	}

	for _, entry := range entries {
		if err = bucket.Put(ctx, entry); err != nil {
			return fmt.Errorf("put %s into cache: %w", entry.URL, err)
		}
	}
	m.metricsCollector.ObservePrecacheDuration(time.Since(startTime))
	m.logger.Info("assets precached", log.Int("assets", len(entries)), log.DurationIn(time.Since(startTime), time.Millisecond))

	e.SkipWaiting()
	return nil
}

func (m *Manager) precacheAsset(ctx context.Context, asset string) (*cachestorage.Entry, error) {
	ctx = httpclient.NewContextWithRequestType(ctx, RequestTypePrecache)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, http.NoBody)
	if err != nil {
		return nil, &PrecacheError{URL: asset, Err: err}
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &PrecacheError{URL: asset, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &PrecacheError{URL: asset, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &PrecacheError{URL: asset, StatusCode: resp.StatusCode, Err: err}
	}
	return cachestorage.NewEntry(req, resp, body, m.classify(req, resp)), nil
}

// OnActivate deletes every cache bucket except the current version and claims all clients.
// Clients are not claimed if any stale bucket could not be deleted.
func (m *Manager) OnActivate(ctx context.Context, e *swhost.ActivateEvent) error {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	var errs []error
	for _, name := range names {
		if name == m.version {
			continue
		}
		m.logger.Info("deleting old cache", log.String("old_cache", name))
		if _, err = m.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete cache %q: %w", name, err))
		}
	}
	if len(errs) != 0 {
		return errors.Join(errs...)
	}
	e.Claim()
	return nil
}

// OnFetch serves the request from the cache, falling back to the network.
// Successful same-origin network responses are stored in the background.
// On network failure nothing is returned.
func (m *Manager) OnFetch(e *swhost.FetchEvent) (*http.Response, error) {
	req := e.Request
	ctx := req.Context()
	key := cachestorage.NewRequestKey(req)
	logger := m.logger.With(log.String("url", key.URL))

	if resp, ok := m.match(ctx, req, logger); ok {
		m.metricsCollector.IncFetches(FetchResultCacheHit)
		return resp, nil
	}

	outReq := req.Clone(httpclient.NewContextWithRequestType(ctx, RequestTypeFetch))
	outReq.RequestURI = ""
	resp, err := m.client.Do(outReq)
	if err != nil {
		m.metricsCollector.IncFetches(FetchResultNetworkError)
		logger.Warn("network request failed, offline", log.Error(err))
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK || m.classify(outReq, resp) != cachestorage.ResponseTypeBasic {
		m.metricsCollector.IncFetches(FetchResultNetworkUncached)
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		m.metricsCollector.IncFetches(FetchResultNetworkError)
		logger.Warn("reading network response failed, offline", log.Error(err))
		return nil, nil
	}
	entry := cachestorage.NewEntry(req, resp, body, cachestorage.ResponseTypeBasic)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	m.metricsCollector.IncFetches(FetchResultNetworkCached)
	m.putAsync(context.WithoutCancel(ctx), entry, logger)
	return resp, nil
}

// match never creates the bucket: a lookup by a worker whose bucket was deleted is a miss.
func (m *Manager) match(ctx context.Context, req *http.Request, logger log.FieldLogger) (*http.Response, bool) {
	exists, err := m.storage.Has(ctx, m.version)
	if err != nil {
		logger.Error("checking cache failed", log.Error(err))
		return nil, false
	}
	if !exists {
		return nil, false
	}
	bucket, err := m.storage.Open(ctx, m.version)
	if err != nil {
		logger.Error("opening cache failed", log.Error(err))
		return nil, false
	}
	resp, found, err := cachestorage.MatchRequest(ctx, bucket, req)
	if err != nil {
		logger.Error("cache lookup failed", log.Error(err))
		return nil, false
	}
	return resp, found
}

func (m *Manager) putAsync(ctx context.Context, entry *cachestorage.Entry, logger log.FieldLogger) {
	m.pendingWrites.Add(1)
	go func() {
		defer m.pendingWrites.Done()
		bucket, err := m.storage.Open(ctx, m.version)
		if err == nil {
			err = bucket.Put(ctx, entry)
		}
		if err != nil {
			logger.Error("storing response in cache failed", log.Error(err))
			return
		}
		logger.Debug("response stored in cache")
	}()
}

// Wait blocks until all background cache writes are finished.
func (m *Manager) Wait() {
	m.pendingWrites.Wait()
}

// OnSync logs that a data sync was requested. Other tags are ignored.
func (m *Manager) OnSync(_ context.Context, e *swhost.SyncEvent) error {
	if e.Tag == SyncTagData {
		m.logger.Info("background sync requested", log.String("tag", e.Tag))
		return nil
	}
	m.logger.Debug("unknown sync tag ignored", log.String("tag", e.Tag))
	return nil
}

// classify returns the response type by the origin of the final (post-redirect) response URL.
func (m *Manager) classify(req *http.Request, resp *http.Response) cachestorage.ResponseType {
	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	if sameOrigin(final, m.scope) {
		return cachestorage.ResponseTypeBasic
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		return cachestorage.ResponseTypeCORS
	}
	return cachestorage.ResponseTypeOpaque
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Hostname() == b.Hostname() && effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}
