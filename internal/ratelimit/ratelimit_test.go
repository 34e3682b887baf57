// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/rootgate/internal/clock"
)

func newTestGate(max int, window time.Duration) (*Gate, *clock.Fake) {
	fake := clock.NewFake(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	return New(Options{MaxRequests: max, Window: window, Clock: fake}), fake
}

func TestGate_AdmitsUpToLimit(t *testing.T) {
	g, fake := newTestGate(3, time.Second)

	var got []bool
	for i := 0; i < 4; i++ {
		got = append(got, g.Admit())
		fake.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, []bool{true, true, true, false}, got)

	fake.Advance(time.Second)
	assert.True(t, g.Admit(), "window has slid past the earlier requests")
}

func TestGate_RejectionIsNotRecorded(t *testing.T) {
	g, fake := newTestGate(1, time.Second)

	assert.True(t, g.Admit())
	for i := 0; i < 5; i++ {
		assert.False(t, g.Admit())
	}

	// Only the admitted request occupies the window.
	fake.Advance(time.Second + time.Millisecond)
	assert.True(t, g.Admit())

	stats := g.Stats()
	assert.Equal(t, int64(2), stats.Admitted)
	assert.Equal(t, int64(5), stats.Rejected)
}

func TestGate_SlidingNotFixed(t *testing.T) {
	g, fake := newTestGate(2, time.Second)

	assert.True(t, g.Admit()) // t=0
	fake.Advance(600 * time.Millisecond)
	assert.True(t, g.Admit()) // t=600ms
	fake.Advance(500 * time.Millisecond)

	// t=1100ms: the t=0 request left the window, the t=600ms one has not.
	assert.True(t, g.Admit())
	assert.False(t, g.Admit())
}

func TestGate_RemainingAndRetryAfter(t *testing.T) {
	g, fake := newTestGate(2, time.Second)

	assert.Equal(t, 2, g.Remaining())
	assert.Equal(t, time.Duration(0), g.RetryAfter())

	g.Admit()
	fake.Advance(250 * time.Millisecond)
	g.Admit()

	assert.Equal(t, 0, g.Remaining())
	assert.Equal(t, 750*time.Millisecond, g.RetryAfter())
}

func TestGate_ReconfigureAndReset(t *testing.T) {
	g, _ := newTestGate(1, time.Second)

	assert.True(t, g.Admit())
	assert.False(t, g.Admit())

	g.Reconfigure(3, 0)
	limit, window := g.Limit()
	assert.Equal(t, 3, limit)
	assert.Equal(t, time.Second, window)
	assert.True(t, g.Admit())

	g.Reset()
	assert.Equal(t, 3, g.Remaining())
}

func TestGate_Defaults(t *testing.T) {
	g := New(Options{})
	limit, window := g.Limit()
	assert.Equal(t, DefaultMaxRequests, limit)
	assert.Equal(t, DefaultWindow, window)
}

func TestGate_ConcurrentAdmitNeverExceedsLimit(t *testing.T) {
	g, _ := newTestGate(50, time.Hour)

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit() {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted)
}
