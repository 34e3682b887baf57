// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package governor composes the response cache, the rate gate and the batch
// queue into the single entry point every downstream call goes through.
//
// Order of operations for one call:
//
//  1. cache lookup (hit returns immediately, no rate budget spent)
//  2. rate gate (rejection returns *RateLimitError)
//  3. work, directly or through the batch queue
//  4. cache write, only for responses reporting Success
package governor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jeranaias/rootgate/internal/batch"
	"github.com/jeranaias/rootgate/internal/cache"
	"github.com/jeranaias/rootgate/internal/clock"
	"github.com/jeranaias/rootgate/internal/metrics"
	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/ratelimit"
)

// Work performs the downstream call.
type Work func(ctx context.Context) (*model.Response, error)

// Options select per-call behaviour.
type Options struct {
	// Batch routes the call through the batch queue (ignored when the
	// governor was built without one).
	Batch bool
	// SkipCache bypasses both the lookup and the write.
	SkipCache bool
}

// Config assembles a Governor. Nil components disable that stage.
type Config struct {
	Cache   *cache.Store
	Gate    *ratelimit.Gate
	Batch   *batch.Queue
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// Stats holds aggregate counters.
type Stats struct {
	Requests    int64 `json:"requests"`
	CacheHits   int64 `json:"cache_hits"`
	Executed    int64 `json:"executed"`
	Batched     int64 `json:"batched"`
	Errors      int64 `json:"errors"`
	RateLimited int64 `json:"rate_limited"`

	Cache *cache.Stats     `json:"cache,omitempty"`
	Gate  *ratelimit.Stats `json:"rate_limit,omitempty"`
	Queue *batch.Stats     `json:"batch,omitempty"`
}

// Governor is safe for concurrent use. No lock is held while work runs.
type Governor struct {
	cache   *cache.Store
	gate    *ratelimit.Gate
	queue   *batch.Queue
	clock   clock.Clock
	metrics *metrics.Metrics

	mu    sync.Mutex
	stats Stats
}

// New creates a Governor from cfg.
func New(cfg Config) *Governor {
	return &Governor{
		cache:   cfg.Cache,
		gate:    cfg.Gate,
		queue:   cfg.Batch,
		clock:   clock.OrReal(cfg.Clock),
		metrics: cfg.Metrics,
	}
}

// Execute runs work for (endpointID, params) under the cache, rate and
// batch policies. The returned response is never shared with the cache: a
// hit is returned as a copy with FromCache set.
//
// A failed call after admission still counts against the rate window and
// writes nothing to the cache.
func (g *Governor) Execute(ctx context.Context, endpointID string, params map[string]any, opts Options, work Work) (*model.Response, error) {
	if work == nil {
		return nil, fmt.Errorf("governor: nil work for %s", endpointID)
	}
	g.count(func(s *Stats) { s.Requests++ })

	useCache := g.cache != nil && !opts.SkipCache
	var key string
	if useCache {
		key = cache.Key(endpointID, params)
		if v, ok := g.cache.GetKey(key); ok {
			g.metrics.ObserveCacheLookup(true)
			if resp, ok := v.(*model.Response); ok {
				g.count(func(s *Stats) { s.CacheHits++ })
				hit := resp.Clone()
				hit.FromCache = true
				return hit, nil
			}
			// foreign value under our key; treat as a miss
			g.cache.Delete(endpointID, params)
		} else {
			g.metrics.ObserveCacheLookup(false)
		}
	}

	if g.gate != nil && !g.gate.Admit() {
		limit, window := g.gate.Limit()
		rlErr := &RateLimitError{Limit: limit, Window: window, RetryAfter: g.gate.RetryAfter()}
		g.count(func(s *Stats) {
			s.RateLimited++
			s.Errors++
		})
		g.metrics.ObserveRateLimited()
		log.Printf("RATE_LIMIT_EXCEEDED | endpoint=%s limit=%d window=%s retry_after=%s",
			endpointID, limit, window, rlErr.RetryAfter)
		return nil, rlErr
	}

	start := g.clock.Now()
	resp, err := g.run(ctx, opts, work)
	elapsed := g.clock.Now().Sub(start)

	if err != nil {
		g.count(func(s *Stats) { s.Errors++ })
		g.metrics.ObserveDownstream(endpointID, false, elapsed)
		return nil, err
	}
	if resp == nil {
		g.count(func(s *Stats) { s.Errors++ })
		g.metrics.ObserveDownstream(endpointID, false, elapsed)
		return nil, fmt.Errorf("governor: %s returned no response", endpointID)
	}

	g.metrics.ObserveDownstream(endpointID, resp.Success, elapsed)
	if !resp.Success {
		g.count(func(s *Stats) { s.Errors++ })
		return resp, nil
	}

	if useCache {
		g.cache.SetKey(key, resp.Clone())
	}
	return resp, nil
}

func (g *Governor) run(ctx context.Context, opts Options, work Work) (*model.Response, error) {
	g.count(func(s *Stats) { s.Executed++ })

	if !opts.Batch || g.queue == nil {
		return work(ctx)
	}

	g.count(func(s *Stats) { s.Batched++ })
	v, err := g.queue.Submit(ctx, func(ctx context.Context) (any, error) {
		return work(ctx)
	})
	if err != nil {
		return nil, err
	}
	resp, _ := v.(*model.Response)
	return resp, nil
}

// Stats returns aggregate counters plus the component snapshots.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	s := g.stats
	g.mu.Unlock()

	if g.cache != nil {
		cs := g.cache.Stats()
		s.Cache = &cs
	}
	if g.gate != nil {
		gs := g.gate.Stats()
		s.Gate = &gs
	}
	if g.queue != nil {
		qs := g.queue.Stats()
		s.Queue = &qs
	}
	return s
}

// Cache returns the response cache (may be nil).
func (g *Governor) Cache() *cache.Store { return g.cache }

// Gate returns the rate gate (may be nil).
func (g *Governor) Gate() *ratelimit.Gate { return g.gate }

// Close flushes the batch queue.
func (g *Governor) Close() {
	if g.queue != nil {
		g.queue.Close()
	}
}

func (g *Governor) count(fn func(*Stats)) {
	g.mu.Lock()
	fn(&g.stats)
	g.mu.Unlock()
}
