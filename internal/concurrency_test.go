// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal contains race detection tests that cross package
// boundaries.
//
// Run with: go test -race -v ./internal/...
package internal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rootgate/internal/cache"
	"github.com/jeranaias/rootgate/internal/config"
	"github.com/jeranaias/rootgate/internal/events"
	"github.com/jeranaias/rootgate/internal/gateway"
	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/provider"
	"github.com/jeranaias/rootgate/internal/ratelimit"
	"github.com/jeranaias/rootgate/internal/router"
)

const (
	// Number of concurrent goroutines for race tests
	raceConcurrency = 50
	// Number of iterations per goroutine
	raceIterations = 20
	// Timeout for race tests
	raceTimeout = 30 * time.Second
)

func newRaceGateway(t *testing.T, cfg *config.Config, credits int) *gateway.Gateway {
	t.Helper()
	var mu sync.Mutex
	balance := credits
	exec := model.ExecutorFunc(func(_ context.Context, endpoint string, _ map[string]any) (*model.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if endpoint == provider.CreditsEndpoint {
			return &model.Response{Success: true, Data: map[string]any{"credits": float64(balance), "level": "pro"}}, nil
		}
		balance--
		return &model.Response{Success: true, Data: "ok", CreditsConsumed: 1}, nil
	})
	gw, err := gateway.New(context.Background(), cfg, gateway.Options{Executor: exec})
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })
	return gw
}

// =============================================================================
// GATEWAY CONCURRENCY TESTS
// =============================================================================

// TestConcurrency_RouteQuery routes a mix of queries from many goroutines
// while stats and tool listings are read.
func TestConcurrency_RouteQuery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	cfg := config.Default()
	cfg.RateLimit.MaxRequests = 100000
	gw := newRaceGateway(t, cfg, 1_000_000)

	queries := []string{
		"search for Uniswap",
		"check my credits",
		"trending projects this week",
		"project details for Aave",
		"比特币 项目",
	}

	var routed int64
	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				query := queries[(idx+j)%len(queries)]
				res := gw.RouteQuery(ctx, query, router.Options{DryRun: j%2 == 0})
				if res.Success {
					atomic.AddInt64(&routed, 1)
				}
				_ = gw.Stats()
				_ = gw.AvailableTools(router.ToolFilter{Accessible: true})
			}
		}(i)
	}
	wg.Wait()

	stats := gw.Stats()
	assert.Equal(t, int64(raceConcurrency*raceIterations), stats.TotalQueries)
	assert.Equal(t, atomic.LoadInt64(&routed), stats.Successful)
	t.Logf("Routed %d queries concurrently", routed)
}

// TestConcurrency_ReconfigureWhileRouting swaps limits and thresholds while
// queries are in flight.
func TestConcurrency_ReconfigureWhileRouting(t *testing.T) {
	gw := newRaceGateway(t, config.Default(), 10_000)

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				if idx%10 == 0 {
					next := gw.Config()
					next.RateLimit.MaxRequests = 50 + j
					next.Credits.Warning = 200 + j
					assert.NoError(t, gw.Reconfigure(next))
					continue
				}
				gw.RouteQuery(context.Background(), fmt.Sprintf("search for token%d", j), router.Options{SkipCache: true})
			}
		}(i)
	}
	wg.Wait()

	_, ok := gw.Ledger().Credits(config.Default().Provider.ID)
	assert.True(t, ok)
}

// TestConcurrency_LedgerListeners consumes credits from many goroutines
// while listeners subscribe and unsubscribe.
func TestConcurrency_LedgerListeners(t *testing.T) {
	cfg := config.Default()
	gw := newRaceGateway(t, cfg, raceConcurrency*raceIterations)
	l := gw.Ledger()

	var updates int64
	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tok := l.On(events.CreditsUpdated, func(events.Event) { atomic.AddInt64(&updates, 1) })
			for j := 0; j < raceIterations; j++ {
				_, err := l.Consume(cfg.Provider.ID, 1)
				assert.NoError(t, err)
			}
			l.Off(tok)
		}(i)
	}
	wg.Wait()

	credits, ok := l.Credits(cfg.Provider.ID)
	require.True(t, ok)
	assert.Equal(t, 0, credits)
	assert.Positive(t, atomic.LoadInt64(&updates))
}

// =============================================================================
// PRIMITIVE CONCURRENCY TESTS
// =============================================================================

// TestConcurrency_CacheAndGate hammers the cache and rate gate directly.
func TestConcurrency_CacheAndGate(t *testing.T) {
	store := cache.New(cache.Options{MaxSize: 64, TTL: time.Minute})
	gate := ratelimit.New(ratelimit.Options{MaxRequests: raceConcurrency, Window: time.Hour})

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency*2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if gate.Admit() {
				atomic.AddInt64(&admitted, 1)
			}
			for j := 0; j < raceIterations; j++ {
				params := map[string]any{"q": idx % 100, "page": j}
				store.Set("search", params, j)
				store.Get("search", params)
			}
			store.Sweep()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(raceConcurrency), admitted)
	assert.LessOrEqual(t, store.Len(), 64)
}

// TestConcurrency_ConfigCloneGetSet reads and writes independent clones.
func TestConcurrency_ConfigCloneGetSet(t *testing.T) {
	base := config.Default()

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c := base.Clone()
			for j := 0; j < raceIterations; j++ {
				assert.NoError(t, c.Set("cache.max_size", 100+j))
				v, err := c.Get("cache.max_size")
				assert.NoError(t, err)
				assert.Equal(t, 100+j, v)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, config.Default().Cache.MaxSize, base.Cache.MaxSize)
}
