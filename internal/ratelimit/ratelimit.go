// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit provides the sliding-window admission gate that keeps the
// downstream call volume under its budget.
//
// The gate keeps the timestamps of admitted requests. Every Admit call first
// drops timestamps that fell out of the trailing window, so no background
// cleanup goroutine is needed.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jeranaias/rootgate/internal/clock"
)

// Defaults applied when Options leaves them zero.
const (
	DefaultMaxRequests = 100
	DefaultWindow      = time.Minute
)

// Options configures a Gate.
type Options struct {
	// MaxRequests is the number of requests admitted per window.
	MaxRequests int
	// Window is the trailing interval requests are counted over.
	Window time.Duration
	// Clock is the time source (default real time).
	Clock clock.Clock
}

// Stats holds gate statistics.
type Stats struct {
	Admitted    int64         `json:"admitted"`
	Rejected    int64         `json:"rejected"`
	InWindow    int           `json:"in_window"`
	Remaining   int           `json:"remaining"`
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
}

// Gate is a sliding-window counter. Safe for concurrent use.
type Gate struct {
	mu     sync.Mutex
	clock  clock.Clock
	limit  int
	window time.Duration

	// timestamps of admitted requests, oldest first
	stamps []time.Time

	admitted int64
	rejected int64
}

// New creates a Gate. Zero values in opts fall back to the defaults.
func New(opts Options) *Gate {
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = DefaultMaxRequests
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &Gate{
		clock:  clock.OrReal(opts.Clock),
		limit:  opts.MaxRequests,
		window: opts.Window,
		stamps: make([]time.Time, 0, opts.MaxRequests),
	}
}

// Admit reports whether one more request fits in the current window and,
// if so, records it. A rejected request is not recorded.
func (g *Gate) Admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.pruneLocked(now)

	if len(g.stamps) >= g.limit {
		g.rejected++
		return false
	}

	g.stamps = append(g.stamps, now)
	g.admitted++
	return true
}

// Remaining returns how many requests would currently be admitted.
func (g *Gate) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(g.clock.Now())
	remaining := g.limit - len(g.stamps)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// RetryAfter returns how long until the oldest recorded request leaves the
// window. Zero means a request would be admitted now.
func (g *Gate) RetryAfter() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.pruneLocked(now)
	if len(g.stamps) < g.limit || len(g.stamps) == 0 {
		return 0
	}
	return g.stamps[0].Add(g.window).Sub(now)
}

// Limit returns the configured budget.
func (g *Gate) Limit() (int, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit, g.window
}

// Reconfigure changes the budget. Recorded history is kept, so lowering the
// limit can reject requests until old ones age out.
func (g *Gate) Reconfigure(maxRequests int, window time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if maxRequests > 0 {
		g.limit = maxRequests
	}
	if window > 0 {
		g.window = window
	}
}

// Reset forgets all recorded requests.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stamps = g.stamps[:0]
}

// Stats returns gate statistics.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(g.clock.Now())
	remaining := g.limit - len(g.stamps)
	if remaining < 0 {
		remaining = 0
	}
	return Stats{
		Admitted:    g.admitted,
		Rejected:    g.rejected,
		InWindow:    len(g.stamps),
		Remaining:   remaining,
		MaxRequests: g.limit,
		Window:      g.window,
	}
}

// pruneLocked drops timestamps outside the window (must hold lock).
func (g *Gate) pruneLocked(now time.Time) {
	windowStart := now.Add(-g.window)

	cut := 0
	for cut < len(g.stamps) && !g.stamps[cut].After(windowStart) {
		cut++
	}
	if cut > 0 {
		g.stamps = append(g.stamps[:0], g.stamps[cut:]...)
	}
}
