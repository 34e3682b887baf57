// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package governor

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded is matched by every rate gate rejection.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimitError describes a rate gate rejection so callers can back off.
type RateLimitError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s (retry after %s)",
		e.Limit, e.Window, e.RetryAfter.Round(time.Millisecond))
}

// Unwrap returns ErrRateLimitExceeded.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}
