// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the adapter a data provider exposes to the
// router and the credit ledger, and the RootData implementation of it.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/jeranaias/rootgate/internal/model"
)

// CreditsEndpoint is the balance endpoint used by CheckCredits.
const CreditsEndpoint = "quotacredits"

// Adapter is a registered data provider.
type Adapter interface {
	ID() string
	HasAccess(required model.Level) bool
	HasCredits(amount int) bool
	CheckCredits(ctx context.Context) (model.CreditInfo, error)
	Tools() []model.ToolSpec
	Executor() model.Executor
}

// BalanceTracker is implemented by adapters that cache their balance and
// accept updates pushed from the credit ledger.
type BalanceTracker interface {
	SetCredits(credits int)
}

// ErrBadCreditsPayload is returned when the balance endpoint answers with
// an unreadable payload.
var ErrBadCreditsPayload = errors.New("unreadable credits payload")

// Options configures a RootData adapter.
type Options struct {
	ID       string
	Executor model.Executor
	// Level is the assumed account level until CheckCredits reports one.
	Level model.Level
	// Tools overrides the built-in catalogue.
	Tools []model.ToolSpec
}

// RootData adapts the RootData-style API to Adapter. The balance and level
// are cached and refreshed by CheckCredits. Until a balance has been seen,
// from CheckCredits or SetCredits, HasCredits allows every call.
type RootData struct {
	id    string
	exec  model.Executor
	tools []model.ToolSpec

	mu      sync.RWMutex
	level   model.Level
	credits int
	known   bool
}

var (
	_ Adapter        = (*RootData)(nil)
	_ BalanceTracker = (*RootData)(nil)
)

// NewRootData creates the adapter. The id defaults to "rootdata" and the
// tools to DefaultCatalog.
func NewRootData(opts Options) (*RootData, error) {
	if opts.Executor == nil {
		return nil, errors.New("provider: executor is required")
	}
	if opts.ID == "" {
		opts.ID = "rootdata"
	}
	tools := opts.Tools
	if len(tools) == 0 {
		tools = DefaultCatalog()
	}
	return &RootData{
		id:    opts.ID,
		exec:  opts.Executor,
		tools: append([]model.ToolSpec(nil), tools...),
		level: opts.Level,
	}, nil
}

// ID implements Adapter.
func (r *RootData) ID() string { return r.id }

// Executor implements Adapter.
func (r *RootData) Executor() model.Executor { return r.exec }

// Tools implements Adapter.
func (r *RootData) Tools() []model.ToolSpec {
	return append([]model.ToolSpec(nil), r.tools...)
}

// HasAccess implements Adapter.
func (r *RootData) HasAccess(required model.Level) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.level.Allows(required)
}

// HasCredits implements Adapter. Free calls are always allowed, as is any
// call while the balance is unknown.
func (r *RootData) HasCredits(amount int) bool {
	if amount <= 0 {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.known || r.credits >= amount
}

// SetCredits implements BalanceTracker.
func (r *RootData) SetCredits(credits int) {
	r.mu.Lock()
	r.credits = credits
	r.known = true
	r.mu.Unlock()
}

// BalanceKnown reports whether a balance has been probed or set.
func (r *RootData) BalanceKnown() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.known
}

// Level returns the cached account level.
func (r *RootData) Level() model.Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.level
}

// CheckCredits implements Adapter by calling the balance endpoint.
func (r *RootData) CheckCredits(ctx context.Context) (model.CreditInfo, error) {
	resp, err := r.exec.Execute(ctx, CreditsEndpoint, map[string]any{})
	if err != nil {
		return model.CreditInfo{}, fmt.Errorf("%s: check credits: %w", r.id, err)
	}
	if !resp.Success {
		return model.CreditInfo{}, fmt.Errorf("%s: check credits: %s", r.id, resp.Error)
	}

	info, err := parseCreditInfo(resp.Data)
	if err != nil {
		return model.CreditInfo{}, fmt.Errorf("%s: %w", r.id, err)
	}

	r.mu.Lock()
	r.credits = info.Credits
	r.level = info.Level
	r.known = true
	r.mu.Unlock()

	log.Printf("PROVIDER_CREDITS | provider=%s credits=%d level=%s", r.id, info.Credits, info.Level)
	return info, nil
}

func parseCreditInfo(data any) (model.CreditInfo, error) {
	obj, ok := data.(map[string]any)
	if !ok {
		return model.CreditInfo{}, fmt.Errorf("%w: expected object", ErrBadCreditsPayload)
	}

	credits, ok := toInt(obj["credits"])
	if !ok {
		return model.CreditInfo{}, fmt.Errorf("%w: credits missing", ErrBadCreditsPayload)
	}
	info := model.CreditInfo{Credits: credits}
	if total, ok := toInt(obj["total_credits"]); ok {
		info.TotalCredits = total
	}
	if s, ok := obj["level"].(string); ok {
		level, err := model.ParseLevel(s)
		if err != nil {
			return model.CreditInfo{}, fmt.Errorf("%w: %v", ErrBadCreditsPayload, err)
		}
		info.Level = level
	}
	switch end := obj["end"].(type) {
	case string:
		info.ExpiresAt = end
	case float64:
		info.ExpiresAt = strconv.FormatInt(int64(end), 10)
	}
	return info, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
