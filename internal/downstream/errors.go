// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package downstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Error variables for common downstream failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("downstream API key not configured")

	// ErrValidation is returned in strict mode for malformed payloads.
	ErrValidation = errors.New("downstream payload failed validation")
)

// Machine-readable codes carried by APIError.
const (
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeInsufficientCredit = "insufficient_credits"
	CodeNotFound           = "not_found"
	CodeRateLimited        = "rate_limited"
	CodeServerError        = "server_error"
	CodeBadResponse        = "bad_response"
	CodeHTTPError          = "http_error"
)

// APIError is a failed downstream call.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("downstream error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("downstream error (HTTP %d): %s", e.Status, e.Message)
}

// Retryable reports whether the call may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || (e.Status >= 500 && e.Status < 600)
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusPaymentRequired:
		return CodeInsufficientCredit
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status >= 500:
		return CodeServerError
	default:
		return CodeHTTPError
	}
}

// ValidationWarning describes a payload that does not have the expected
// shape for its endpoint.
type ValidationWarning struct {
	Endpoint string
	Problem  string
}

// Error implements the error interface.
func (w *ValidationWarning) Error() string {
	return fmt.Sprintf("%s: %s", w.Endpoint, w.Problem)
}
