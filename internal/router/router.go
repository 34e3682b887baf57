// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rootgate/internal/cache"
	"github.com/jeranaias/rootgate/internal/clock"
	"github.com/jeranaias/rootgate/internal/governor"
	"github.com/jeranaias/rootgate/internal/language"
	"github.com/jeranaias/rootgate/internal/ledger"
	"github.com/jeranaias/rootgate/internal/metrics"
	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/provider"
	"github.com/jeranaias/rootgate/internal/ratelimit"
	"github.com/jeranaias/rootgate/internal/util"
)

// MaxQueryLength is the maximum allowed query length in bytes.
const MaxQueryLength = 4096

// logQueryRunes bounds how much query text reaches the log.
const logQueryRunes = 80

// ============================================================================
// ROUTER
// ============================================================================

// Config holds the collaborators of a Router. A nil Governor is replaced by
// one with a default cache and rate gate; a nil Ledger means credits are
// not tracked.
type Config struct {
	Governor *governor.Governor
	Ledger   *ledger.Ledger
	Detector language.Detector
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

type registeredProvider struct {
	adapter  provider.Adapter
	tools    map[string]model.ToolSpec
	toolList []string
	builders map[string]ParamBuilder
}

// Router is safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider
	order     []string

	governor *governor.Governor
	ledger   *ledger.Ledger
	detector language.Detector
	metrics  *metrics.Metrics
	clock    clock.Clock

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Router.
func New(cfg Config) *Router {
	gov := cfg.Governor
	if gov == nil {
		gov = governor.New(governor.Config{
			Cache:   cache.New(cache.Options{Clock: cfg.Clock}),
			Gate:    ratelimit.New(ratelimit.Options{Clock: cfg.Clock}),
			Clock:   cfg.Clock,
			Metrics: cfg.Metrics,
		})
	}
	detector := cfg.Detector
	if detector == nil {
		detector = language.NewScriptDetector()
	}
	return &Router{
		providers: make(map[string]*registeredProvider),
		governor:  gov,
		ledger:    cfg.Ledger,
		detector:  detector,
		metrics:   cfg.Metrics,
		clock:     clock.OrReal(cfg.Clock),
		stats:     newStats(),
	}
}

// Governor returns the governor calls run through.
func (r *Router) Governor() *governor.Governor { return r.governor }

// RegisterProvider pulls the adapter's tool catalogue into the routing table
// and binds each tool's parameter builder.
func (r *Router) RegisterProvider(a provider.Adapter) error {
	if a == nil {
		return errors.New("register provider: nil adapter")
	}
	id := a.ID()
	if id == "" {
		return errors.New("register provider: empty id")
	}

	reg := &registeredProvider{
		adapter:  a,
		tools:    make(map[string]model.ToolSpec),
		builders: make(map[string]ParamBuilder),
	}
	for _, tool := range a.Tools() {
		if _, dup := reg.tools[tool.Name]; dup {
			return fmt.Errorf("register provider %s: duplicate tool %s", id, tool.Name)
		}
		reg.tools[tool.Name] = tool
		reg.toolList = append(reg.toolList, tool.Name)
		reg.builders[tool.Name] = builderFor(tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("register provider %s: already registered", id)
	}
	r.providers[id] = reg
	r.order = append(r.order, id)

	log.Printf("ROUTER_PROVIDER_REGISTERED | provider=%s tools=%d", id, len(reg.toolList))
	return nil
}

// AnalyzeIntent classifies text after Unicode normalisation.
func (r *Router) AnalyzeIntent(text string) Intent {
	return AnalyzeIntent(normalize(text))
}

// ExtractEntities extracts entities after Unicode normalisation.
func (r *Router) ExtractEntities(text string) []Entity {
	return ExtractEntities(normalize(text))
}

// BuildParams runs the tool's builder and merges opts.Params under it. The
// first registered provider offering the tool supplies the builder.
func (r *Router) BuildParams(toolID, query string, entities []Entity, lang string, opts Options) map[string]any {
	r.mu.RLock()
	builder := queryBuilder
	for _, id := range r.order {
		if opts.Provider != "" && id != opts.Provider {
			continue
		}
		if b, ok := r.providers[id].builders[toolID]; ok {
			builder = b
			break
		}
	}
	r.mu.RUnlock()

	params := builder(ParamInput{Query: query, Entities: entities, Language: lang, Options: opts})
	return mergeParams(params, opts.Params)
}

// RouteQuery classifies, routes and executes a query. It never panics and
// always returns a Result; failures set Success=false with ErrorKind and Err.
func (r *Router) RouteQuery(ctx context.Context, query string, opts Options) (res *Result) {
	start := r.clock.Now()
	res = &Result{
		RequestID: uuid.New().String(),
		DryRun:    opts.DryRun,
		Entities:  []Entity{},
		Intent:    Intent{Type: IntentUnknown, MatchedKeywords: []string{}},
	}

	defer func() {
		if p := recover(); p != nil {
			log.Printf("ROUTE_PANIC | request=%s panic=%v\n%s", res.RequestID, p, debug.Stack())
			res.fail(KindInternal, fmt.Errorf("%w: %v", ErrInternal, p))
		}
		res.Duration = r.clock.Now().Sub(start)
		r.record(res)
		log.Printf("QUERY_ROUTED | request=%s intent=%s provider=%s tool=%s success=%t cache=%t dry_run=%t duration=%s query=%q",
			res.RequestID, res.Intent.Type, res.Provider, res.Tool, res.Success, res.FromCache, res.DryRun,
			res.Duration, util.TruncateRunes(query, logQueryRunes))
	}()

	if strings.TrimSpace(query) == "" {
		res.fail(KindInvalidQuery, fmt.Errorf("%w: empty query", ErrInvalidQuery))
		return res
	}
	if len(query) > MaxQueryLength {
		res.fail(KindInvalidQuery, fmt.Errorf("%w: %d bytes (max %d)", ErrInvalidQuery, len(query), MaxQueryLength))
		return res
	}

	text := normalize(query)
	res.Intent = AnalyzeIntent(text)
	res.Entities = ExtractEntities(text)
	res.Language = language.Normalize(opts.Language)
	if res.Language == "" {
		res.Language = r.detector.Detect(text)
	}

	route := r.SelectBestRoute(res.Intent, res.Entities, opts)
	if route == nil {
		err := fmt.Errorf("%w for intent %s", ErrNoRouteFound, res.Intent.Type)
		if opts.Tool != "" {
			err = fmt.Errorf("%w: tool %s is not available", ErrNoRouteFound, opts.Tool)
		}
		log.Printf("ROUTE_NONE | request=%s intent=%s tool=%s", res.RequestID, res.Intent.Type, opts.Tool)
		res.fail(KindNoRoute, err)
		return res
	}
	res.Provider = route.ProviderID
	res.Tool = route.ToolID
	res.Score = route.Score
	log.Printf("ROUTE_SELECTED | request=%s provider=%s tool=%s score=%.3f", res.RequestID, route.ProviderID, route.ToolID, route.Score)

	res.Params = r.BuildParams(route.ToolID, text, res.Entities, res.Language, Options{
		Provider: route.ProviderID,
		Params:   opts.Params,
	})

	if opts.DryRun {
		res.Success = true
		return res
	}

	r.mu.RLock()
	cand, ok := r.lookupLocked(route.ProviderID, route.ToolID)
	r.mu.RUnlock()
	if !ok {
		res.fail(KindNoRoute, fmt.Errorf("%w: %s/%s unregistered", ErrNoRouteFound, route.ProviderID, route.ToolID))
		return res
	}

	exec := cand.adapter.Executor()
	endpoint := cand.tool.EndpointID
	params := res.Params
	resp, err := r.governor.Execute(ctx, endpoint, params, governor.Options{Batch: opts.Batch, SkipCache: opts.SkipCache},
		func(ctx context.Context) (*model.Response, error) {
			return exec.Execute(ctx, endpoint, params)
		})
	if err != nil {
		if errors.Is(err, governor.ErrRateLimitExceeded) {
			res.fail(KindRateLimited, err)
			return res
		}
		res.fail(KindDownstream, &DownstreamFailure{Provider: route.ProviderID, Tool: route.ToolID, Cause: err})
		return res
	}

	res.FromCache = resp.FromCache
	if !resp.Success {
		res.fail(KindDownstream, &DownstreamFailure{Provider: route.ProviderID, Tool: route.ToolID, Cause: errors.New(resp.Error)})
		return res
	}

	res.Success = true
	res.Data = resp.Data
	res.Credits = r.settleCredits(route.ProviderID, endpoint, resp)
	return res
}

// settleCredits reports consumption to the ledger. Cache hits consume
// nothing. A fresh balance endpoint answer resynchronises the balance.
func (r *Router) settleCredits(providerID, endpoint string, resp *model.Response) *CreditsUsage {
	if r.ledger == nil {
		return &CreditsUsage{Consumed: resp.CreditsConsumed}
	}
	balance, reported := reportedBalance(endpoint, resp.Data)
	if resp.FromCache || (!reported && resp.CreditsConsumed <= 0) {
		remaining, _ := r.ledger.Credits(providerID)
		return &CreditsUsage{Remaining: remaining}
	}

	var (
		snap ledger.Snapshot
		err  error
	)
	if reported {
		snap, err = r.ledger.UpdateCredits(providerID, balance, resp.CreditsConsumed)
	} else {
		snap, err = r.ledger.Consume(providerID, resp.CreditsConsumed)
	}
	if err != nil {
		log.Printf("ROUTE_LEDGER_ERROR | provider=%s error=%v", providerID, err)
		return &CreditsUsage{Consumed: resp.CreditsConsumed}
	}
	return &CreditsUsage{Consumed: resp.CreditsConsumed, Remaining: snap.Credits, Status: snap.Status.String()}
}

func reportedBalance(endpoint string, data any) (int, bool) {
	if endpoint != provider.CreditsEndpoint {
		return 0, false
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return 0, false
	}
	switch n := obj["credits"].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func (res *Result) fail(kind ErrorKind, err error) {
	res.Success = false
	res.ErrorKind = kind
	res.Err = err
	res.Error = err.Error()
}

// normalize folds compatibility characters (full-width letters and the
// like) so rules written in ASCII still match.
func normalize(text string) string {
	return strings.TrimSpace(norm.NFKC.String(text))
}

// ============================================================================
// CATALOGUE QUERIES
// ============================================================================

// ToolFilter narrows AvailableTools. Zero values match everything.
type ToolFilter struct {
	Provider string
	Category string
	// Level, when set, keeps tools the caller's level allows.
	Level *model.Level
	// Accessible keeps only tools the provider can currently serve.
	Accessible bool
}

// ToolInfo is a registered tool and whether it is currently usable.
type ToolInfo struct {
	ProviderID string         `json:"provider_id"`
	Tool       model.ToolSpec `json:"tool"`
	Accessible bool           `json:"accessible"`
}

// AvailableTools lists registered tools in registration order.
func (r *Router) AvailableTools(filter ToolFilter) []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ToolInfo
	for _, id := range r.order {
		if filter.Provider != "" && id != filter.Provider {
			continue
		}
		reg := r.providers[id]
		for _, name := range reg.toolList {
			tool := reg.tools[name]
			if filter.Category != "" && tool.Category != filter.Category {
				continue
			}
			if filter.Level != nil && !filter.Level.Allows(tool.RequiredLevel) {
				continue
			}
			accessible := reg.adapter.HasAccess(tool.RequiredLevel) && reg.adapter.HasCredits(tool.CreditsPerCall)
			if filter.Accessible && !accessible {
				continue
			}
			out = append(out, ToolInfo{ProviderID: id, Tool: tool, Accessible: accessible})
		}
	}
	return out
}

// Recommendation is a scored tool suggestion.
type Recommendation struct {
	ProviderID string  `json:"provider_id"`
	Tool       string  `json:"tool"`
	Score      float64 `json:"score"`
	Accessible bool    `json:"accessible"`
}

// RecommendedTools scores every registered tool against the query and
// returns up to limit suggestions, best first. Inaccessible tools are
// included but flagged.
func (r *Router) RecommendedTools(query string, limit int) []Recommendation {
	text := normalize(query)
	intent := AnalyzeIntent(text)
	entities := ExtractEntities(text)

	eligible := make(map[string]int)
	for i, id := range eligibleTools(intent.Type) {
		eligible[id] = i
	}

	r.mu.RLock()
	var recs []Recommendation
	for _, id := range r.order {
		reg := r.providers[id]
		for _, name := range reg.toolList {
			tool := reg.tools[name]
			score := scoreRoute(intent, entities, tool)
			if _, ok := eligible[name]; !ok {
				// tools outside the intent's table only rank on category and entities
				score -= intent.Confidence
			}
			recs = append(recs, Recommendation{
				ProviderID: id,
				Tool:       name,
				Score:      score,
				Accessible: reg.adapter.HasAccess(tool.RequiredLevel) && reg.adapter.HasCredits(tool.CreditsPerCall),
			})
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// ============================================================================
// STATISTICS
// ============================================================================

// Stats are running routing counters.
type Stats struct {
	TotalQueries int64            `json:"total_queries"`
	Successful   int64            `json:"successful"`
	Failed       int64            `json:"failed"`
	DryRuns      int64            `json:"dry_runs"`
	CacheHits    int64            `json:"cache_hits"`
	ByIntent     map[string]int64 `json:"by_intent"`
	ByProvider   map[string]int64 `json:"by_provider"`
	ByTool       map[string]int64 `json:"by_tool"`
	ByErrorKind  map[string]int64 `json:"by_error_kind"`

	Governor governor.Stats `json:"governor"`
}

func newStats() Stats {
	return Stats{
		ByIntent:    make(map[string]int64),
		ByProvider:  make(map[string]int64),
		ByTool:      make(map[string]int64),
		ByErrorKind: make(map[string]int64),
	}
}

func (r *Router) record(res *Result) {
	r.statsMu.Lock()
	s := &r.stats
	s.TotalQueries++
	if res.Success {
		s.Successful++
	} else {
		s.Failed++
		s.ByErrorKind[string(res.ErrorKind)]++
	}
	if res.DryRun {
		s.DryRuns++
	}
	if res.FromCache {
		s.CacheHits++
	}
	s.ByIntent[string(res.Intent.Type)]++
	if res.Provider != "" {
		s.ByProvider[res.Provider]++
	}
	if res.Tool != "" {
		s.ByTool[res.Tool]++
	}
	r.statsMu.Unlock()

	r.metrics.ObserveQuery(string(res.Intent.Type), res.Tool, res.Success)
}

// Stats returns a copy of the routing counters.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	out := Stats{
		TotalQueries: r.stats.TotalQueries,
		Successful:   r.stats.Successful,
		Failed:       r.stats.Failed,
		DryRuns:      r.stats.DryRuns,
		CacheHits:    r.stats.CacheHits,
		ByIntent:     copyCounts(r.stats.ByIntent),
		ByProvider:   copyCounts(r.stats.ByProvider),
		ByTool:       copyCounts(r.stats.ByTool),
		ByErrorKind:  copyCounts(r.stats.ByErrorKind),
	}
	r.statsMu.Unlock()

	out.Governor = r.governor.Stats()
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
