// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/rootgate/internal/events"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is a provider's credit level. The numeric order is the walk order
// used for transitions.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
	StatusExhausted
)

// String returns the upper-case status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	case StatusExhausted:
		return "EXHAUSTED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a status name (case-insensitive).
func ParseStatus(name string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "OK":
		return StatusOK, nil
	case "WARNING":
		return StatusWarning, nil
	case "CRITICAL":
		return StatusCritical, nil
	case "EXHAUSTED":
		return StatusExhausted, nil
	}
	return StatusOK, fmt.Errorf("unknown credit status %q", name)
}

// alertKind returns the alert emitted while in s, if any.
func (s Status) alertKind() (events.Kind, bool) {
	switch s {
	case StatusWarning:
		return events.CreditsWarning, true
	case StatusCritical:
		return events.CreditsCritical, true
	case StatusExhausted:
		return events.CreditsExhausted, true
	}
	return "", false
}

// =============================================================================
// THRESHOLDS
// =============================================================================

// Thresholds are the balances at or below which a provider enters each
// non-OK status.
type Thresholds struct {
	Warning   int `json:"warning" toml:"warning"`
	Critical  int `json:"critical" toml:"critical"`
	Exhausted int `json:"exhausted" toml:"exhausted"`
}

// ErrInvalidThresholds is wrapped by every Thresholds.Validate failure.
var ErrInvalidThresholds = errors.New("invalid credit thresholds")

// DefaultThresholds returns warning=100, critical=20, exhausted=0.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 100, Critical: 20, Exhausted: 0}
}

// Validate checks 0 <= exhausted <= critical <= warning.
func (t Thresholds) Validate() error {
	switch {
	case t.Exhausted < 0:
		return fmt.Errorf("%w: exhausted (%d) must not be negative", ErrInvalidThresholds, t.Exhausted)
	case t.Critical < t.Exhausted:
		return fmt.Errorf("%w: critical (%d) below exhausted (%d)", ErrInvalidThresholds, t.Critical, t.Exhausted)
	case t.Warning < t.Critical:
		return fmt.Errorf("%w: warning (%d) below critical (%d)", ErrInvalidThresholds, t.Warning, t.Critical)
	}
	return nil
}

// StatusFor maps a balance onto a status.
func (t Thresholds) StatusFor(balance int) Status {
	switch {
	case balance <= t.Exhausted:
		return StatusExhausted
	case balance <= t.Critical:
		return StatusCritical
	case balance <= t.Warning:
		return StatusWarning
	default:
		return StatusOK
	}
}

// threshold returns the boundary that puts a provider into s.
func (t Thresholds) threshold(s Status) int {
	switch s {
	case StatusWarning:
		return t.Warning
	case StatusCritical:
		return t.Critical
	case StatusExhausted:
		return t.Exhausted
	}
	return 0
}

// walk returns the adjacent-step path from one status to another,
// excluding from. An unchanged status yields nil.
func walk(from, to Status) []Status {
	var path []Status
	switch {
	case to > from:
		for s := from + 1; s <= to; s++ {
			path = append(path, s)
		}
	case to < from:
		for s := from - 1; s >= to; s-- {
			path = append(path, s)
		}
	}
	return path
}
