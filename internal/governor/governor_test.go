// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package governor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rootgate/internal/batch"
	"github.com/jeranaias/rootgate/internal/cache"
	"github.com/jeranaias/rootgate/internal/clock"
	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/ratelimit"
)

type countingWork struct {
	mu    sync.Mutex
	calls int
	resp  *model.Response
	err   error
}

func (w *countingWork) do(context.Context) (*model.Response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	return w.resp.Clone(), nil
}

func (w *countingWork) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func newTestGovernor(maxRequests int) (*Governor, *clock.Fake) {
	fake := clock.NewFake(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	g := New(Config{
		Cache: cache.New(cache.Options{MaxSize: 10, TTL: time.Minute, Clock: fake}),
		Gate:  ratelimit.New(ratelimit.Options{MaxRequests: maxRequests, Window: time.Second, Clock: fake}),
		Clock: fake,
	})
	return g, fake
}

func TestGovernor_CacheHitSkipsWorkAndGate(t *testing.T) {
	g, _ := newTestGovernor(1)
	work := &countingWork{resp: &model.Response{Success: true, Data: "uniswap", CreditsConsumed: 2}}
	params := map[string]any{"query": "uniswap"}

	first, err := g.Execute(context.Background(), "ser_inv", params, Options{}, work.do)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	// The gate only admits one call; a cache hit must not need it.
	second, err := g.Execute(context.Background(), "ser_inv", params, Options{}, work.do)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "uniswap", second.Data)
	assert.Equal(t, 1, work.Calls())

	stats := g.Stats()
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.Executed)
}

func TestGovernor_CallerEditsDoNotReachCache(t *testing.T) {
	g, _ := newTestGovernor(5)
	work := &countingWork{resp: &model.Response{Success: true, Data: map[string]any{"name": "Aave"}}}
	params := map[string]any{"project_id": "Aave"}

	first, err := g.Execute(context.Background(), "get_item", params, Options{}, work.do)
	require.NoError(t, err)
	first.Data.(map[string]any)["name"] = "edited"

	second, err := g.Execute(context.Background(), "get_item", params, Options{}, work.do)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	second.Data.(map[string]any)["extra"] = true

	third, err := g.Execute(context.Background(), "get_item", params, Options{}, work.do)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Aave"}, third.Data)
	assert.Equal(t, 1, work.Calls())
}

func TestGovernor_RateLimitIsTyped(t *testing.T) {
	g, fake := newTestGovernor(1)
	work := &countingWork{resp: &model.Response{Success: true}}

	_, err := g.Execute(context.Background(), "get_item", map[string]any{"project_id": 1}, Options{}, work.do)
	require.NoError(t, err)

	fake.Advance(300 * time.Millisecond)
	_, err = g.Execute(context.Background(), "get_item", map[string]any{"project_id": 2}, Options{}, work.do)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	var rlErr *RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, 1, rlErr.Limit)
	assert.Equal(t, time.Second, rlErr.Window)
	assert.Equal(t, 700*time.Millisecond, rlErr.RetryAfter)
	assert.Equal(t, 1, work.Calls())

	stats := g.Stats()
	assert.Equal(t, int64(1), stats.RateLimited)
	assert.Equal(t, int64(1), stats.Errors)
}

func TestGovernor_FailedWorkCountsButIsNotCached(t *testing.T) {
	g, _ := newTestGovernor(2)
	boom := errors.New("downstream down")
	work := &countingWork{err: boom}
	params := map[string]any{"org_id": 9}

	_, err := g.Execute(context.Background(), "get_org", params, Options{}, work.do)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, g.Cache().Len())
	assert.Equal(t, 1, g.Gate().Remaining(), "failed attempt still spent budget")

	_, err = g.Execute(context.Background(), "get_org", params, Options{}, work.do)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, work.Calls())
	assert.Equal(t, int64(2), g.Stats().Errors)
}

func TestGovernor_UnsuccessfulResponseNotCached(t *testing.T) {
	g, _ := newTestGovernor(5)
	work := &countingWork{resp: &model.Response{Success: false, Error: "not found"}}

	resp, err := g.Execute(context.Background(), "get_item", map[string]any{"project_id": 0}, Options{}, work.do)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, g.Cache().Len())
	assert.Equal(t, int64(1), g.Stats().Errors)
}

func TestGovernor_SkipCache(t *testing.T) {
	g, _ := newTestGovernor(5)
	work := &countingWork{resp: &model.Response{Success: true}}

	for i := 0; i < 2; i++ {
		_, err := g.Execute(context.Background(), "quotacredits", nil, Options{SkipCache: true}, work.do)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, work.Calls())
	assert.Equal(t, 0, g.Cache().Len())
}

func TestGovernor_Batched(t *testing.T) {
	fake := clock.NewFake(time.Now())
	g := New(Config{
		Batch: batch.New(batch.Options{Size: 2, Delay: time.Hour, Clock: fake}),
		Clock: fake,
	})
	work := &countingWork{resp: &model.Response{Success: true, Data: 1}}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := g.Execute(context.Background(), "get_item", map[string]any{"project_id": i}, Options{Batch: true}, work.do)
			assert.NoError(t, err)
			assert.True(t, resp.Success)
		}(i)
	}
	wg.Wait()

	stats := g.Stats()
	assert.Equal(t, int64(2), stats.Batched)
	require.NotNil(t, stats.Queue)
	assert.Equal(t, int64(1), stats.Queue.Batches)
	assert.Nil(t, stats.Cache)
}

func TestGovernor_NilWork(t *testing.T) {
	g := New(Config{})
	_, err := g.Execute(context.Background(), "x", nil, Options{}, nil)
	assert.Error(t, err)
}

func TestRateLimitError_Message(t *testing.T) {
	err := &RateLimitError{Limit: 3, Window: time.Second, RetryAfter: 250 * time.Millisecond}
	assert.Equal(t, "rate limit exceeded: 3 requests per 1s (retry after 250ms)", err.Error())
}
