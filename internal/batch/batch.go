// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package batch groups concurrently submitted units of downstream work and
// releases them together once a size or delay trigger fires.
package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rootgate/internal/clock"
)

// Defaults applied when Options leaves them zero.
const (
	DefaultSize  = 10
	DefaultDelay = 100 * time.Millisecond
)

// Work is one unit of work. It receives the submitter's context.
type Work func(ctx context.Context) (any, error)

// Options configures a Queue.
type Options struct {
	// Size flushes the queue as soon as this many units are pending.
	Size int
	// Delay is how long the first pending unit waits for company.
	Delay time.Duration
	// Clock provides the flush timer (default real time).
	Clock clock.Clock
	// OnFlush is called after every flush with the batch size and the
	// number of units that failed.
	OnFlush func(size, failed int)
}

// Stats holds queue statistics.
type Stats struct {
	Batches   int64 `json:"batches"`
	Units     int64 `json:"units"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
	SizeFlush int64 `json:"size_flushes"`
	TimeFlush int64 `json:"timer_flushes"`
}

// unit is a pending piece of work with its own resolution handle.
type unit struct {
	id    string
	ctx   context.Context
	work  Work
	done  chan struct{}
	value any
	err   error
}

func (u *unit) resolve(value any, err error) {
	u.value = value
	u.err = err
	close(u.done)
}

// =============================================================================
// QUEUE
// =============================================================================

// Queue is a staging area for downstream calls. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	clock   clock.Clock
	size    int
	delay   time.Duration
	onFlush func(size, failed int)

	pending []*unit
	timer   clock.Timer
	// gen identifies the current pending list so a stale timer callback
	// cannot flush a list it was not armed for.
	gen uint64

	stats Stats
}

// New creates a Queue. Zero values in opts fall back to the defaults.
func New(opts Options) *Queue {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	return &Queue{
		clock:   clock.OrReal(opts.Clock),
		size:    opts.Size,
		delay:   opts.Delay,
		onFlush: opts.OnFlush,
	}
}

// Submit stages work and blocks until its batch has run or ctx is done.
// A full batch is flushed on the submitting goroutine; otherwise a single
// delayed flush is armed for the pending list.
func (q *Queue) Submit(ctx context.Context, work Work) (any, error) {
	if work == nil {
		return nil, fmt.Errorf("batch: nil work")
	}
	u := &unit{
		id:   uuid.New().String(),
		ctx:  ctx,
		work: work,
		done: make(chan struct{}),
	}

	q.mu.Lock()
	q.pending = append(q.pending, u)
	if len(q.pending) >= q.size {
		units := q.takeLocked()
		q.stats.SizeFlush++
		q.mu.Unlock()
		q.run(units, "size")
	} else {
		if q.timer == nil {
			gen := q.gen
			q.timer = q.clock.AfterFunc(q.delay, func() { q.flushTimer(gen) })
		}
		q.mu.Unlock()
	}

	select {
	case <-u.done:
		return u.value, u.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flush runs everything currently pending and waits for the batch to
// resolve. It returns the number of units flushed.
func (q *Queue) Flush() int {
	q.mu.Lock()
	units := q.takeLocked()
	q.mu.Unlock()

	q.run(units, "manual")
	return len(units)
}

// Pending returns the number of staged units.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}

// Close flushes anything still pending.
func (q *Queue) Close() {
	q.Flush()
}

func (q *Queue) flushTimer(gen uint64) {
	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	units := q.takeLocked()
	q.stats.TimeFlush++
	q.mu.Unlock()

	q.run(units, "timer")
}

// takeLocked detaches the pending list and cancels its timer (must hold lock).
func (q *Queue) takeLocked() []*unit {
	units := q.pending
	q.pending = nil
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if len(units) > 0 {
		q.stats.Batches++
		q.stats.Units += int64(len(units))
	}
	return units
}

// run executes every unit concurrently. Each unit is resolved on its own;
// a failing or panicking unit never affects its siblings.
func (q *Queue) run(units []*unit, reason string) {
	if len(units) == 0 {
		return
	}

	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed int
	)
	for _, u := range units {
		wg.Add(1)
		go func(u *unit) {
			defer wg.Done()
			value, err := execute(u)
			if err != nil {
				failMu.Lock()
				failed++
				failMu.Unlock()
			}
			u.resolve(value, err)
		}(u)
	}
	wg.Wait()

	q.mu.Lock()
	q.stats.Failed += int64(failed)
	q.mu.Unlock()

	log.Printf("BATCH_FLUSH | reason=%s size=%d failed=%d", reason, len(units), failed)
	if q.onFlush != nil {
		q.onFlush(len(units), failed)
	}
}

func execute(u *unit) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("BATCH_UNIT_PANIC | unit=%s panic=%v", u.id, r)
			value = nil
			err = fmt.Errorf("batch unit %s panicked: %v", u.id, r)
		}
	}()

	if ctxErr := u.ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return u.work(u.ctx)
}
