// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rootgate/internal/clock"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T, maxSize int, ttl time.Duration) (*Store, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(Options{MaxSize: maxSize, TTL: ttl, Clock: fake}), fake
}

func params(kv ...any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		wantMaxSize int
		wantTTL     time.Duration
	}{
		{name: "defaults when zero", opts: Options{}, wantMaxSize: DefaultMaxSize, wantTTL: DefaultTTL},
		{name: "defaults when negative", opts: Options{MaxSize: -1, TTL: -time.Second}, wantMaxSize: DefaultMaxSize, wantTTL: DefaultTTL},
		{name: "custom values", opts: Options{MaxSize: 5, TTL: time.Second}, wantMaxSize: 5, wantTTL: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.opts)
			if s.maxSize != tt.wantMaxSize {
				t.Errorf("maxSize = %d, want %d", s.maxSize, tt.wantMaxSize)
			}
			if s.TTL() != tt.wantTTL {
				t.Errorf("TTL() = %v, want %v", s.TTL(), tt.wantTTL)
			}
			if s.Len() != 0 {
				t.Errorf("Len() = %d, want 0", s.Len())
			}
		})
	}
}

// =============================================================================
// KEYS
// =============================================================================

func TestKey_IgnoresMapOrder(t *testing.T) {
	a := map[string]any{"query": "uniswap", "precise_x_search": true, "page": 1}
	b := map[string]any{"page": 1, "query": "uniswap", "precise_x_search": true}
	assert.Equal(t, Key("ser_inv", a), Key("ser_inv", b))
}

func TestKey_DistinguishesEndpointAndParams(t *testing.T) {
	base := Key("ser_inv", params("query", "aave"))
	assert.NotEqual(t, base, Key("get_item", params("query", "aave")))
	assert.NotEqual(t, base, Key("ser_inv", params("query", "Aave")))
	assert.Equal(t, Key("quotacredits", nil), Key("quotacredits", map[string]any{}))
}

// =============================================================================
// BASIC OPERATIONS
// =============================================================================

func TestStore_GetSet(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Minute)

	_, ok := s.Get("ser_inv", params("query", "uniswap"))
	require.False(t, ok, "empty store must miss")

	s.Set("ser_inv", params("query", "uniswap"), "result")
	v, ok := s.Get("ser_inv", params("query", "uniswap"))
	require.True(t, ok)
	assert.Equal(t, "result", v)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestStore_SetOverwritesAndRefreshesTTL(t *testing.T) {
	s, fake := newTestStore(t, 10, 100*time.Millisecond)

	s.Set("e", nil, 1)
	fake.Advance(80 * time.Millisecond)
	s.Set("e", nil, 2)
	fake.Advance(80 * time.Millisecond)

	v, ok := s.Get("e", nil)
	require.True(t, ok, "rewrite must restart the TTL")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, s.Len())
}

// =============================================================================
// LRU EVICTION
// =============================================================================

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s, _ := newTestStore(t, 2, time.Hour)

	s.Set("e", params("k", "A"), "a")
	s.Set("e", params("k", "B"), "b")
	s.Set("e", params("k", "C"), "c")

	_, okA := s.Get("e", params("k", "A"))
	_, okB := s.Get("e", params("k", "B"))
	_, okC := s.Get("e", params("k", "C"))

	assert.False(t, okA, "A must be evicted when C is inserted")
	assert.True(t, okB)
	assert.True(t, okC)
	assert.Equal(t, int64(1), s.Stats().Evictions)
}

func TestStore_ReadTouchesEntry(t *testing.T) {
	s, _ := newTestStore(t, 2, time.Hour)

	s.Set("e", params("k", "A"), "a")
	s.Set("e", params("k", "B"), "b")
	_, ok := s.Get("e", params("k", "A"))
	require.True(t, ok)

	s.Set("e", params("k", "C"), "c")

	_, okA := s.Get("e", params("k", "A"))
	_, okB := s.Get("e", params("k", "B"))
	assert.True(t, okA, "A was read last and must survive")
	assert.False(t, okB, "B becomes the LRU entry")
}

func TestStore_UpdateDoesNotEvict(t *testing.T) {
	s, _ := newTestStore(t, 2, time.Hour)

	s.Set("e", params("k", "A"), "a")
	s.Set("e", params("k", "B"), "b")
	s.Set("e", params("k", "A"), "a2")

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(0), s.Stats().Evictions)
}

// =============================================================================
// TTL EXPIRY
// =============================================================================

func TestStore_TTLExpiry(t *testing.T) {
	s, fake := newTestStore(t, 10, 100*time.Millisecond)

	s.Set("e", params("k", "A"), "a")
	fake.Advance(150 * time.Millisecond)

	_, ok := s.Get("e", params("k", "A"))
	assert.False(t, ok, "entry older than TTL must miss")
	assert.Equal(t, 0, s.Len(), "expired entry is removed on lookup")

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Expired)
	assert.Equal(t, int64(0), stats.Evictions)
}

func TestStore_ExpiryAtExactDeadline(t *testing.T) {
	s, fake := newTestStore(t, 10, 100*time.Millisecond)

	s.Set("e", nil, "v")
	fake.Advance(99 * time.Millisecond)
	_, ok := s.Get("e", nil)
	require.True(t, ok)

	fake.Advance(time.Millisecond)
	_, ok = s.Get("e", nil)
	assert.False(t, ok, "now == expiresAt is already dead")
}

func TestStore_Sweep(t *testing.T) {
	s, fake := newTestStore(t, 10, 100*time.Millisecond)

	s.Set("e", params("k", "old"), 1)
	fake.Advance(60 * time.Millisecond)
	s.Set("e", params("k", "new"), 2)
	fake.Advance(60 * time.Millisecond)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("e", params("k", "new"))
	assert.True(t, ok)
}

// =============================================================================
// MISC
// =============================================================================

func TestStore_DeleteAndClear(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)

	s.Set("e", params("k", 1), 1)
	s.Set("e", params("k", 2), 2)

	assert.True(t, s.Delete("e", params("k", 1)))
	assert.False(t, s.Delete("e", params("k", 1)))
	assert.Equal(t, 1, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Keys())
}

func TestStore_KeysMostRecentFirst(t *testing.T) {
	s, _ := newTestStore(t, 10, time.Hour)

	s.Set("e", params("k", "A"), 1)
	s.Set("e", params("k", "B"), 2)
	s.Get("e", params("k", "A"))

	keys := s.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, Key("e", params("k", "A")), keys[0])
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New(Options{MaxSize: 50, TTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p := params("k", fmt.Sprintf("%d-%d", n, j%10))
				s.Set("e", p, j)
				s.Get("e", p)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, s.Len(), 50)
}
