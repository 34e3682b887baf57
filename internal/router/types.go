// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/rootgate/internal/model"
)

// ============================================================================
// INTENTS
// ============================================================================

// IntentType is the classified purpose of a query.
type IntentType string

const (
	IntentSearch              IntentType = "search"
	IntentProjectDetails      IntentType = "project_details"
	IntentOrganizationDetails IntentType = "organization_details"
	IntentPeopleDetails       IntentType = "people_details"
	IntentFundingInfo         IntentType = "funding_info"
	IntentEcosystemAnalysis   IntentType = "ecosystem_analysis"
	IntentTrending            IntentType = "trending"
	IntentCreditsCheck        IntentType = "credits_check"
	IntentUnknown             IntentType = "unknown"
)

// Intent is the single best classification of a query.
type Intent struct {
	Type            IntentType `json:"type"`
	Confidence      float64    `json:"confidence"`
	MatchedKeywords []string   `json:"matched_keywords"`
}

// ============================================================================
// ENTITIES
// ============================================================================

// EntityType is the kind of domain object an entity refers to.
type EntityType string

const (
	EntityProject      EntityType = "PROJECT"
	EntityToken        EntityType = "TOKEN"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityPerson       EntityType = "PERSON"
	EntityEcosystem    EntityType = "ECOSYSTEM"
	EntityAddress      EntityType = "ADDRESS"
)

// EntitySource records how an entity was found.
type EntitySource string

// SourcePattern marks entities found by a regular expression.
const SourcePattern EntitySource = "pattern"

// Entity is a substring recognised as a domain object.
type Entity struct {
	Type       EntityType   `json:"type"`
	Value      string       `json:"value"`
	Confidence float64      `json:"confidence"`
	Source     EntitySource `json:"source"`
}

// ============================================================================
// ROUTES
// ============================================================================

// Route is a scored (provider, tool) pair.
type Route struct {
	ProviderID string         `json:"provider_id"`
	ToolID     string         `json:"tool_id"`
	Definition model.ToolSpec `json:"definition"`
	Score      float64        `json:"score"`
}

// Options adjust a single routing call.
type Options struct {
	// Tool forces a specific tool instead of the intent's eligible list.
	Tool string `json:"tool,omitempty"`
	// Provider restricts routing to one provider.
	Provider string `json:"provider,omitempty"`
	// Params are merged into the built parameters. Built values win.
	Params map[string]any `json:"params,omitempty"`
	// DryRun classifies, routes and builds parameters without executing.
	DryRun bool `json:"dry_run,omitempty"`
	// Batch sends the downstream call through the batch queue.
	Batch bool `json:"batch,omitempty"`
	// SkipCache bypasses the response cache.
	SkipCache bool `json:"skip_cache,omitempty"`
	// Language overrides detection (BCP 47 code).
	Language string `json:"language,omitempty"`
}

// ============================================================================
// RESULTS
// ============================================================================

// ErrorKind classifies a failed Result.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindInvalidQuery ErrorKind = "invalid_query"
	KindNoRoute      ErrorKind = "no_route"
	KindRateLimited  ErrorKind = "rate_limited"
	KindDownstream   ErrorKind = "downstream"
	KindInternal     ErrorKind = "internal"
)

// CreditsUsage reports the credit effect of a call.
type CreditsUsage struct {
	Consumed  int    `json:"consumed"`
	Remaining int    `json:"remaining"`
	Status    string `json:"status,omitempty"`
}

// Result is the structured outcome of RouteQuery.
type Result struct {
	RequestID string         `json:"request_id"`
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
	Intent    Intent         `json:"intent"`
	Entities  []Entity       `json:"entities"`
	Language  string         `json:"language"`
	Provider  string         `json:"provider,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Score     float64        `json:"score,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Credits   *CreditsUsage  `json:"credits,omitempty"`
	FromCache bool           `json:"from_cache,omitempty"`
	DryRun    bool           `json:"dry_run,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`

	// Err is the typed cause of a failure.
	Err error `json:"-"`
}

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrNoRouteFound means no registered tool survived filtering.
	ErrNoRouteFound = errors.New("no route found")
	// ErrInvalidQuery means the query was empty or too long.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInternal wraps a recovered panic.
	ErrInternal = errors.New("internal routing failure")
)

// DownstreamFailure wraps an executor error with its route.
type DownstreamFailure struct {
	Provider string
	Tool     string
	Cause    error
}

// Error implements the error interface.
func (e *DownstreamFailure) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Tool, e.Cause)
}

// Unwrap returns the executor error.
func (e *DownstreamFailure) Unwrap() error {
	return e.Cause
}
