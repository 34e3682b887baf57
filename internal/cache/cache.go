// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/rootgate/internal/clock"
)

// Default limits applied when Options leaves them zero.
const (
	DefaultMaxSize = 1000
	DefaultTTL     = 5 * time.Minute
)

// =============================================================================
// TYPES
// =============================================================================

// Options configures a Store.
type Options struct {
	// MaxSize is the maximum number of live entries (default 1000).
	MaxSize int
	// TTL is how long an entry stays valid after it was written (default 5m).
	TTL time.Duration
	// Clock is the time source (default real time).
	Clock clock.Clock
}

// Entry is a single cached value.
type Entry struct {
	Key        string
	Value      any
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// Stats holds cache statistics.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	Entries   int     `json:"entries"`
	MaxSize   int     `json:"max_size"`
	HitRate   float64 `json:"hit_rate"`
}

// Store is an LRU cache with per-entry TTL. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	clock   clock.Clock
	maxSize int
	ttl     time.Duration

	// order holds *Entry values, front = most recently used.
	order   *list.List
	entries map[string]*list.Element

	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

// New creates a Store. Zero values in opts fall back to the defaults.
func New(opts Options) *Store {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Store{
		clock:   clock.OrReal(opts.Clock),
		maxSize: opts.MaxSize,
		ttl:     opts.TTL,
		order:   list.New(),
		entries: make(map[string]*list.Element, opts.MaxSize),
	}
}

// =============================================================================
// KEYS
// =============================================================================

// Key returns the deterministic cache key for an endpoint call.
// Params are serialised as JSON, which orders map keys, so logically equal
// parameter sets produce the same key.
func Key(endpointID string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(endpointID))
	h.Write([]byte{0})
	h.Write(canonicalParams(params))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalParams(params map[string]any) []byte {
	if len(params) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(params)
	if err != nil {
		// Unserialisable values still need a stable key.
		return []byte(fmt.Sprintf("%v", params))
	}
	return data
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Get returns the value cached for the endpoint call. An expired entry is
// removed and reported as a miss. A hit moves the entry to the most recently
// used position.
func (s *Store) Get(endpointID string, params map[string]any) (any, bool) {
	return s.GetKey(Key(endpointID, params))
}

// GetKey is Get for a precomputed key.
func (s *Store) GetKey(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}

	entry := elem.Value.(*Entry)
	if !s.clock.Now().Before(entry.ExpiresAt) {
		s.removeElementLocked(elem)
		s.expired++
		s.misses++
		return nil, false
	}

	s.order.MoveToFront(elem)
	s.hits++
	return entry.Value, true
}

// Set stores value for the endpoint call. Inserting a new key into a full
// store evicts the least recently used entry first.
func (s *Store) Set(endpointID string, params map[string]any, value any) {
	s.SetKey(Key(endpointID, params), value)
}

// SetKey is Set for a precomputed key.
func (s *Store) SetKey(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*Entry)
		entry.Value = value
		entry.InsertedAt = now
		entry.ExpiresAt = now.Add(s.ttl)
		s.order.MoveToFront(elem)
		return
	}

	if len(s.entries) >= s.maxSize {
		if oldest := s.order.Back(); oldest != nil {
			s.removeElementLocked(oldest)
			s.evictions++
		}
	}

	entry := &Entry{
		Key:        key,
		Value:      value,
		InsertedAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}
	s.entries[key] = s.order.PushFront(entry)
}

// Delete removes the entry for an endpoint call, if present.
func (s *Store) Delete(endpointID string, params map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[Key(endpointID, params)]
	if !ok {
		return false
	}
	s.removeElementLocked(elem)
	return true
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for elem := s.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*Entry).ExpiresAt) {
			s.removeElementLocked(elem)
			s.expired++
			removed++
		}
		elem = prev
	}
	return removed
}

// Clear removes all entries. Counters are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order.Init()
	s.entries = make(map[string]*list.Element, s.maxSize)
}

// Len returns the number of physically stored entries, including expired
// entries that have not been swept yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the stored keys from most to least recently used.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*Entry).Key)
	}
	return keys
}

// Stats returns cache statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	hitRate := 0.0
	if total := s.hits + s.misses; total > 0 {
		hitRate = float64(s.hits) / float64(total)
	}
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Expired:   s.expired,
		Entries:   len(s.entries),
		MaxSize:   s.maxSize,
		HitRate:   hitRate,
	}
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// removeElementLocked removes an element (must hold lock).
func (s *Store) removeElementLocked(elem *list.Element) {
	entry := s.order.Remove(elem).(*Entry)
	delete(s.entries, entry.Key)
}
