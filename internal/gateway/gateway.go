// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway assembles the router, resource governor and credit
// ledger from configuration and owns their lifecycle.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/rootgate/internal/batch"
	"github.com/jeranaias/rootgate/internal/cache"
	"github.com/jeranaias/rootgate/internal/clock"
	"github.com/jeranaias/rootgate/internal/config"
	"github.com/jeranaias/rootgate/internal/downstream"
	"github.com/jeranaias/rootgate/internal/events"
	"github.com/jeranaias/rootgate/internal/governor"
	"github.com/jeranaias/rootgate/internal/ledger"
	"github.com/jeranaias/rootgate/internal/metrics"
	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/provider"
	"github.com/jeranaias/rootgate/internal/ratelimit"
	"github.com/jeranaias/rootgate/internal/router"
)

// ErrClosed is returned by operations on a closed Gateway.
var ErrClosed = errors.New("gateway closed")

// Options adjust how New assembles the gateway.
type Options struct {
	// Executor replaces the HTTP client of the configured provider.
	Executor model.Executor
	// Clock replaces the wall clock.
	Clock clock.Clock
	// Offline registers the configured provider with the router only. The
	// ledger is not probed, so routing works without an API key.
	Offline bool
	// SkipProvider leaves provider registration to the caller.
	SkipProvider bool
}

// Gateway is the assembled service. It is safe for concurrent use.
type Gateway struct {
	cfg *config.Config

	clock    clock.Clock
	metrics  *metrics.Metrics
	cache    *cache.Store
	gate     *ratelimit.Gate
	queue    *batch.Queue
	governor *governor.Governor
	store    *ledger.SQLiteStore
	ledger   *ledger.Ledger
	router   *router.Router
	client   *downstream.Client

	mu       sync.Mutex
	trackers map[string]provider.BalanceTracker
	stops    []func()
	closed   bool
}

// ============================================================================
// ASSEMBLY
// ============================================================================

// New builds every component from cfg and registers the configured
// provider. Close releases the batch queue, refresh loops and the history
// database.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Gateway, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	g := &Gateway{
		cfg:      cfg.Clone(),
		clock:    clock.OrReal(opts.Clock),
		metrics:  metrics.New(),
		trackers: make(map[string]provider.BalanceTracker),
	}

	if cfg.Cache.Enabled {
		g.cache = cache.New(cache.Options{MaxSize: cfg.Cache.MaxSize, TTL: cfg.CacheTTL(), Clock: g.clock})
	}
	g.gate = ratelimit.New(ratelimit.Options{MaxRequests: cfg.RateLimit.MaxRequests, Window: cfg.RateWindow(), Clock: g.clock})
	if cfg.Batch.Enabled {
		g.queue = batch.New(batch.Options{
			Size:    cfg.Batch.Size,
			Delay:   cfg.BatchDelay(),
			Clock:   g.clock,
			OnFlush: g.metrics.ObserveBatchFlush,
		})
	}
	g.governor = governor.New(governor.Config{
		Cache:   g.cache,
		Gate:    g.gate,
		Batch:   g.queue,
		Clock:   g.clock,
		Metrics: g.metrics,
	})

	ledgerOpts := ledger.Options{Clock: g.clock, Bus: events.New(), Metrics: g.metrics}
	if cfg.Credits.HistoryDB != "" {
		store, err := ledger.OpenSQLiteStore(cfg.Credits.HistoryDB)
		if err != nil {
			g.governor.Close()
			return nil, fmt.Errorf("gateway: %w", err)
		}
		g.store = store
		ledgerOpts.Store = store
	}
	g.ledger = ledger.New(ledgerOpts)
	g.ledger.On(events.CreditsUpdated, g.syncBalance)

	g.router = router.New(router.Config{
		Governor: g.governor,
		Ledger:   g.ledger,
		Metrics:  g.metrics,
		Clock:    g.clock,
	})

	if opts.SkipProvider {
		return g, nil
	}

	adapter, err := g.buildAdapter(opts.Executor)
	if err != nil {
		g.Close()
		return nil, err
	}
	if opts.Offline {
		err = g.router.RegisterProvider(adapter)
	} else {
		err = g.RegisterProvider(ctx, adapter, cfg.Thresholds())
	}
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("gateway: %w", err)
	}
	return g, nil
}

func (g *Gateway) buildAdapter(exec model.Executor) (*provider.RootData, error) {
	level, err := g.cfg.ProviderLevel()
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	var tools []model.ToolSpec
	if path := g.cfg.Provider.CatalogPath; path != "" {
		if tools, err = provider.LoadCatalog(path); err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
	}

	if exec == nil {
		g.client = downstream.New(downstream.Options{
			BaseURL:    g.cfg.Provider.BaseURL,
			APIKey:     g.cfg.Provider.APIKey,
			Language:   g.cfg.Provider.Language,
			Timeout:    g.cfg.DownstreamTimeout(),
			MaxRetries: g.cfg.Downstream.MaxRetries,
			Strict:     g.cfg.Downstream.StrictValidation,
		})
		exec = g.client
	}

	adapter, err := provider.NewRootData(provider.Options{
		ID:       g.cfg.Provider.ID,
		Executor: exec,
		Level:    level,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	return adapter, nil
}

// RegisterProvider probes the adapter's balance into the ledger, then makes
// its tools routable. Adapters that track their own balance are kept in
// step with every ledger update.
func (g *Gateway) RegisterProvider(ctx context.Context, adapter provider.Adapter, thresholds ledger.Thresholds) error {
	if g.isClosed() {
		return ErrClosed
	}
	if err := g.ledger.RegisterProvider(ctx, adapter, thresholds); err != nil {
		return err
	}
	if tracker, ok := adapter.(provider.BalanceTracker); ok {
		g.mu.Lock()
		g.trackers[adapter.ID()] = tracker
		g.mu.Unlock()
	}
	return g.router.RegisterProvider(adapter)
}

// syncBalance pushes ledger balances into adapters so HasCredits filtering
// sees consumption recorded by the router.
func (g *Gateway) syncBalance(ev events.Event) {
	update, ok := ev.Payload.(ledger.Update)
	if !ok {
		return
	}
	g.mu.Lock()
	tracker := g.trackers[ev.ProviderID]
	g.mu.Unlock()
	if tracker != nil {
		tracker.SetCredits(update.Credits)
	}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start launches background work: periodic balance probes when
// credits.refresh_interval_secs is set, and cache sweeping.
func (g *Gateway) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	if interval := g.cfg.RefreshInterval(); interval > 0 {
		g.stops = append(g.stops, g.ledger.StartAutoRefresh(ctx, interval))
		log.Printf("GATEWAY_AUTO_REFRESH | interval=%s", interval)
	}
	if g.cache != nil {
		g.stops = append(g.stops, g.startSweeper(g.cfg.CacheTTL()))
	}
}

func (g *Gateway) startSweeper(every time.Duration) func() {
	var (
		mu      sync.Mutex
		timer   clock.Timer
		stopped bool
	)
	var tick func()
	tick = func() {
		if n := g.cache.Sweep(); n > 0 {
			log.Printf("CACHE_SWEEP | removed=%d", n)
		}
		mu.Lock()
		if !stopped {
			timer = g.clock.AfterFunc(every, tick)
		}
		mu.Unlock()
	}
	mu.Lock()
	timer = g.clock.AfterFunc(every, tick)
	mu.Unlock()

	return func() {
		mu.Lock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}
}

// Reconfigure applies the hot-reloadable settings of cfg: rate limits and
// the thresholds of every registered provider. Other changes need a restart.
func (g *Gateway) Reconfigure(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.gate.Reconfigure(cfg.RateLimit.MaxRequests, cfg.RateWindow())

	var errs []error
	for _, id := range g.ledger.Providers() {
		if err := g.ledger.SetThresholds(id, cfg.Thresholds()); err != nil {
			errs = append(errs, err)
		}
	}

	g.mu.Lock()
	g.cfg.RateLimit = cfg.RateLimit
	g.cfg.Credits.Warning = cfg.Credits.Warning
	g.cfg.Credits.Critical = cfg.Credits.Critical
	g.cfg.Credits.Exhausted = cfg.Credits.Exhausted
	g.mu.Unlock()

	log.Printf("GATEWAY_RECONFIGURED | max_requests=%d window=%s warning=%d critical=%d exhausted=%d",
		cfg.RateLimit.MaxRequests, cfg.RateWindow(), cfg.Credits.Warning, cfg.Credits.Critical, cfg.Credits.Exhausted)
	return errors.Join(errs...)
}

// Close stops background work, flushes the batch queue and closes the
// history database. It is safe to call more than once.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	stops := g.stops
	g.stops = nil
	g.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	g.governor.Close()
	if g.store != nil {
		return g.store.Close()
	}
	return nil
}

func (g *Gateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// ============================================================================
// OPERATIONS
// ============================================================================

// RouteQuery routes and executes one query.
func (g *Gateway) RouteQuery(ctx context.Context, text string, opts router.Options) *router.Result {
	if g.isClosed() {
		return &router.Result{
			Error:     ErrClosed.Error(),
			ErrorKind: router.KindInternal,
			Err:       ErrClosed,
			Entities:  []router.Entity{},
		}
	}
	return g.router.RouteQuery(ctx, text, opts)
}

// AvailableTools lists registered tools.
func (g *Gateway) AvailableTools(filter router.ToolFilter) []router.ToolInfo {
	return g.router.AvailableTools(filter)
}

// RecommendedTools scores tools against a query.
func (g *Gateway) RecommendedTools(query string, limit int) []router.Recommendation {
	return g.router.RecommendedTools(query, limit)
}

// Stats returns routing and governor counters.
func (g *Gateway) Stats() router.Stats { return g.router.Stats() }

// Config returns a copy of the active configuration.
func (g *Gateway) Config() *config.Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.Clone()
}

// Router returns the query router.
func (g *Gateway) Router() *router.Router { return g.router }

// Ledger returns the credit ledger.
func (g *Gateway) Ledger() *ledger.Ledger { return g.ledger }

// Metrics returns the Prometheus collectors.
func (g *Gateway) Metrics() *metrics.Metrics { return g.metrics }

// Client returns the HTTP executor, or nil when one was injected.
func (g *Gateway) Client() *downstream.Client { return g.client }
