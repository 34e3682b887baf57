// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// PERMISSION LEVELS
// =============================================================================

// Level is a provider permission tier. Higher levels include lower ones.
type Level int

const (
	LevelBasic Level = iota
	LevelPlus
	LevelPro
)

// String returns the level's name.
func (l Level) String() string {
	switch l {
	case LevelBasic:
		return "basic"
	case LevelPlus:
		return "plus"
	case LevelPro:
		return "pro"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Allows reports whether an account at level l may call a tool requiring
// required.
func (l Level) Allows(required Level) bool {
	return l >= required
}

// ParseLevel parses a level name (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic", "":
		return LevelBasic, nil
	case "plus":
		return LevelPlus, nil
	case "pro":
		return LevelPro, nil
	default:
		return LevelBasic, fmt.Errorf("unknown permission level %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// =============================================================================
// TOOLS
// =============================================================================

// ToolSpec describes one downstream operation.
type ToolSpec struct {
	Name           string          `json:"name" yaml:"name"`
	Description    string          `json:"description" yaml:"description"`
	InputSchema    json.RawMessage `json:"input_schema,omitempty" yaml:"-"`
	EndpointID     string          `json:"endpoint_id" yaml:"endpoint"`
	RequiredLevel  Level           `json:"required_level" yaml:"level"`
	CreditsPerCall int             `json:"credits_per_call" yaml:"credits"`
	Category       string          `json:"category" yaml:"category"`
}

// =============================================================================
// DOWNSTREAM CALLS
// =============================================================================

// Response is the outcome of a downstream call.
type Response struct {
	Success         bool   `json:"success"`
	Data            any    `json:"data,omitempty"`
	CreditsConsumed int    `json:"credits_consumed"`
	Error           string `json:"error,omitempty"`

	// FromCache is set by the governor when the response was not fetched.
	FromCache bool `json:"from_cache,omitempty"`
}

// Clone copies r. JSON-shaped Data (maps of string to any, slices of any)
// is copied deeply, so a caller editing its copy cannot reach the cached
// one. Other Data types are shared and must be treated as read-only.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = cloneValue(r.Data)
	return &c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Executor performs downstream calls. Failures are returned as errors;
// a nil error with Success=false means the downstream reported a soft
// failure in its envelope.
type Executor interface {
	Execute(ctx context.Context, endpointID string, params map[string]any) (*Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, endpointID string, params map[string]any) (*Response, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, endpointID string, params map[string]any) (*Response, error) {
	return f(ctx, endpointID, params)
}

// =============================================================================
// CREDITS
// =============================================================================

// CreditInfo is a provider's reported balance.
type CreditInfo struct {
	Credits      int   `json:"credits"`
	TotalCredits int   `json:"total_credits,omitempty"`
	Level        Level `json:"level"`
	// ExpiresAt is the plan expiry as reported by the provider, if any.
	ExpiresAt string `json:"expires_at,omitempty"`
}
