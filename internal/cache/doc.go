// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the response cache used in front of downstream calls.
//
// Store is a fixed-capacity LRU table with a per-entry time-to-live. Keys are
// derived from an endpoint id and a canonical serialisation of the call
// parameters, so two calls with the same parameters in a different map order
// share one entry.
//
// # Key Types
//
//   - Store: LRU + TTL table with hit/miss counters
//   - Entry: a cached value with insertion and expiry timestamps
//   - Stats: counters and occupancy for reporting
//
// # Usage
//
//	store := cache.New(cache.Options{MaxSize: 1000, TTL: 5 * time.Minute})
//	if v, ok := store.Get("ser_inv", params); ok {
//	    return v
//	}
//	store.Set("ser_inv", params, resp)
//
// Capacity eviction and expiry are independent: an entry can be evicted
// before its TTL elapses, and an expired entry is dropped on the next lookup
// (or by Sweep) even if the table is not full.
package cache
