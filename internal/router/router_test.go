// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rootgate/internal/cache"
	"github.com/jeranaias/rootgate/internal/clock"
	"github.com/jeranaias/rootgate/internal/governor"
	"github.com/jeranaias/rootgate/internal/ledger"
	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/provider"
	"github.com/jeranaias/rootgate/internal/ratelimit"
)

// =============================================================================
// FIXTURES
// =============================================================================

type fakeExecutor struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]error
	soft    map[string]string
	credits int
	panics  bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		calls:   make(map[string]int),
		fail:    make(map[string]error),
		soft:    make(map[string]string),
		credits: 500,
	}
}

func (f *fakeExecutor) Execute(_ context.Context, endpoint string, params map[string]any) (*model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[endpoint]++
	if f.panics {
		panic("executor exploded")
	}
	if err := f.fail[endpoint]; err != nil {
		return nil, err
	}
	if msg, ok := f.soft[endpoint]; ok {
		return &model.Response{Success: false, Error: msg}, nil
	}

	switch endpoint {
	case provider.CreditsEndpoint:
		return &model.Response{Success: true, Data: map[string]any{
			"credits":       float64(f.credits),
			"total_credits": float64(1000),
			"level":         "pro",
		}}, nil
	case "get_item":
		return &model.Response{Success: true, Data: map[string]any{"project_name": params["project_id"]}, CreditsConsumed: 2}, nil
	default:
		return &model.Response{Success: true, Data: []any{map[string]any{"name": "Uniswap"}}}, nil
	}
}

func (f *fakeExecutor) Calls(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *fakeExecutor) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func newAdapter(t *testing.T, exec model.Executor, level model.Level, credits int) *provider.RootData {
	t.Helper()
	a, err := provider.NewRootData(provider.Options{Executor: exec, Level: level})
	require.NoError(t, err)
	a.SetCredits(credits)
	return a
}

func newTestRouter(t *testing.T, level model.Level, credits int) (*Router, *fakeExecutor, *provider.RootData) {
	t.Helper()
	exec := newFakeExecutor()
	a := newAdapter(t, exec, level, credits)
	r := New(Config{})
	require.NoError(t, r.RegisterProvider(a))
	return r, exec, a
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestAnalyzeIntent_Unknown(t *testing.T) {
	got := AnalyzeIntent("hello there")
	assert.Equal(t, IntentUnknown, got.Type)
	assert.Zero(t, got.Confidence)
	assert.NotNil(t, got.MatchedKeywords)
	assert.Empty(t, got.MatchedKeywords)
}

func TestAnalyzeIntent_Scores(t *testing.T) {
	tests := []struct {
		text string
		want IntentType
		conf float64
	}{
		{"search for Uniswap", IntentSearch, 1.1},
		{"check my credits", IntentCreditsCheck, 2.16},
		{"trending projects", IntentTrending, 1.3},
		{"tell me about Aave", IntentProjectDetails, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := AnalyzeIntent(tt.text)
			assert.Equal(t, tt.want, got.Type)
			assert.InDelta(t, tt.conf, got.Confidence, 1e-9)
		})
	}
}

func TestAnalyzeIntent_KeywordsMatchAsSubstrings(t *testing.T) {
	tests := []struct {
		text    string
		want    IntentType
		conf    float64
		matched []string
	}{
		{"check my credits", IntentCreditsCheck, 2.16, []string{"credits", "credit"}},
		{"a photo gallery", IntentTrending, 0.3, []string{"hot"}},
		{"steam games", IntentPeopleDetails, 0.4, []string{"team"}},
		{"SEARCH", IntentSearch, 0.6, []string{"search"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := AnalyzeIntent(tt.text)
			assert.Equal(t, tt.want, got.Type)
			assert.InDelta(t, tt.conf, got.Confidence, 1e-9)
			assert.Equal(t, tt.matched, got.MatchedKeywords)
		})
	}
}

func TestExtractEntities(t *testing.T) {
	got := ExtractEntities("search for Uniswap")
	require.NotEmpty(t, got)
	assert.Equal(t, EntityProject, got[0].Type)
	assert.Equal(t, "Uniswap", got[0].Value)
	assert.Equal(t, 0.8, got[0].Confidence)
	assert.Equal(t, SourcePattern, got[0].Source)

	none := ExtractEntities("nothing to see here")
	assert.NotNil(t, none)
	assert.Empty(t, none)

	addr := ExtractEntities("holder 0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
	require.Len(t, addr, 1)
	assert.Equal(t, EntityAddress, addr[0].Type)
}

func TestRouter_NormalizesFullWidth(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelBasic, 0)
	assert.Equal(t, IntentSearch, r.AnalyzeIntent("ｓｅａｒｃｈ for Uniswap").Type)
}

// =============================================================================
// ROUTING
// =============================================================================

func TestRouteQuery_SearchDryRun(t *testing.T) {
	r, exec, _ := newTestRouter(t, model.LevelBasic, 0)

	res := r.RouteQuery(context.Background(), "search for Uniswap", Options{DryRun: true})
	require.True(t, res.Success, res.Error)
	assert.True(t, res.DryRun)
	assert.Equal(t, IntentSearch, res.Intent.Type)
	assert.Equal(t, "rootdata", res.Provider)
	assert.Equal(t, "search_web3_entities", res.Tool)
	assert.InDelta(t, 1.6, res.Score, 1e-9)
	require.NotEmpty(t, res.Entities)
	assert.Equal(t, EntityProject, res.Entities[0].Type)
	assert.Equal(t, "Uniswap", res.Entities[0].Value)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, map[string]any{"query": "search for Uniswap", "language": "en"}, res.Params)
	assert.NotEmpty(t, res.RequestID)
	assert.Zero(t, exec.Total())
}

func TestRouteQuery_DryRunIsDeterministic(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelPro, 100)

	first := r.RouteQuery(context.Background(), "tell me about Aave", Options{DryRun: true})
	second := r.RouteQuery(context.Background(), "tell me about Aave", Options{DryRun: true})
	require.True(t, first.Success)
	assert.Equal(t, first.Intent, second.Intent)
	assert.Equal(t, first.Entities, second.Entities)
	assert.Equal(t, first.Tool, second.Tool)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Params, second.Params)
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestRouteQuery_CreditsCheckCachesSecondCall(t *testing.T) {
	r, exec, _ := newTestRouter(t, model.LevelBasic, 0)
	ctx := context.Background()

	dry := r.RouteQuery(ctx, "check my credits", Options{DryRun: true})
	require.True(t, dry.Success)
	assert.Equal(t, IntentCreditsCheck, dry.Intent.Type)
	assert.Equal(t, "check_credits", dry.Tool)
	assert.Equal(t, map[string]any{}, dry.Params)
	assert.Zero(t, exec.Calls(provider.CreditsEndpoint))

	live := r.RouteQuery(ctx, "check my credits", Options{})
	require.True(t, live.Success, live.Error)
	assert.False(t, live.FromCache)
	assert.Equal(t, 1, exec.Calls(provider.CreditsEndpoint))

	again := r.RouteQuery(ctx, "check my credits", Options{})
	require.True(t, again.Success)
	assert.True(t, again.FromCache)
	assert.Equal(t, 1, exec.Calls(provider.CreditsEndpoint))
	assert.Equal(t, live.Data, again.Data)
}

func TestRouteQuery_SkipCache(t *testing.T) {
	r, exec, _ := newTestRouter(t, model.LevelBasic, 0)
	ctx := context.Background()

	r.RouteQuery(ctx, "search for Uniswap", Options{})
	res := r.RouteQuery(ctx, "search for Uniswap", Options{SkipCache: true})
	require.True(t, res.Success)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, exec.Calls("ser_inv"))
}

func TestRouteQuery_LevelFiltersTools(t *testing.T) {
	r, exec, _ := newTestRouter(t, model.LevelBasic, 1000)

	res := r.RouteQuery(context.Background(), "trending projects", Options{})
	assert.False(t, res.Success)
	assert.Equal(t, KindNoRoute, res.ErrorKind)
	assert.ErrorIs(t, res.Err, ErrNoRouteFound)
	assert.Zero(t, exec.Total())
}

func TestRouteQuery_CreditsFilterTools(t *testing.T) {
	r, _, a := newTestRouter(t, model.LevelPro, 0)

	res := r.RouteQuery(context.Background(), "tell me about Aave", Options{DryRun: true})
	require.True(t, res.Success)
	assert.Equal(t, IntentProjectDetails, res.Intent.Type)
	assert.Equal(t, "search_web3_entities", res.Tool)

	a.SetCredits(100)
	res = r.RouteQuery(context.Background(), "tell me about Aave", Options{DryRun: true})
	require.True(t, res.Success)
	assert.Equal(t, "get_project_details", res.Tool)
	// confidence + category bonus + two PROJECT mentions at 0.8 * 0.3
	assert.InDelta(t, 1.0+0.5+2*0.24, res.Score, 1e-9)
	assert.Equal(t, "Aave", res.Params["project_id"])
	assert.Equal(t, true, res.Params["include_team"])
}

func TestRouteQuery_ForcedTool(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelBasic, 0)

	res := r.RouteQuery(context.Background(), "search for Uniswap", Options{Tool: "check_credits", DryRun: true})
	require.True(t, res.Success)
	assert.Equal(t, "check_credits", res.Tool)

	res = r.RouteQuery(context.Background(), "search for Uniswap", Options{Tool: "no_such_tool"})
	assert.Equal(t, KindNoRoute, res.ErrorKind)
	assert.Contains(t, res.Error, "no_such_tool")
}

func TestRouteQuery_ProviderRestriction(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelBasic, 0)

	res := r.RouteQuery(context.Background(), "search for Uniswap", Options{Provider: "elsewhere", DryRun: true})
	assert.Equal(t, KindNoRoute, res.ErrorKind)
}

func TestRouteQuery_InvalidQuery(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelBasic, 0)

	for _, q := range []string{"", "   ", strings.Repeat("a", MaxQueryLength+1)} {
		res := r.RouteQuery(context.Background(), q, Options{})
		assert.False(t, res.Success)
		assert.Equal(t, KindInvalidQuery, res.ErrorKind)
		assert.ErrorIs(t, res.Err, ErrInvalidQuery)
	}
}

func TestRouteQuery_Language(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelBasic, 0)

	res := r.RouteQuery(context.Background(), "搜索 Uniswap 项目", Options{DryRun: true})
	require.True(t, res.Success)
	assert.Equal(t, "zh", res.Language)

	res = r.RouteQuery(context.Background(), "search for Uniswap", Options{DryRun: true, Language: "ja-JP"})
	assert.Equal(t, "ja", res.Language)
	assert.Equal(t, "ja", res.Params["language"])
}

// =============================================================================
// FAILURES
// =============================================================================

func TestRouteQuery_RateLimited(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	gov := governor.New(governor.Config{
		Gate:  ratelimit.New(ratelimit.Options{MaxRequests: 1, Window: time.Minute, Clock: fake}),
		Clock: fake,
	})
	exec := newFakeExecutor()
	r := New(Config{Governor: gov, Clock: fake})
	require.NoError(t, r.RegisterProvider(newAdapter(t, exec, model.LevelBasic, 0)))

	first := r.RouteQuery(context.Background(), "search for Uniswap", Options{})
	require.True(t, first.Success)

	second := r.RouteQuery(context.Background(), "search for Aave", Options{})
	assert.False(t, second.Success)
	assert.Equal(t, KindRateLimited, second.ErrorKind)
	assert.ErrorIs(t, second.Err, governor.ErrRateLimitExceeded)
	var rl *governor.RateLimitError
	require.ErrorAs(t, second.Err, &rl)
	assert.Equal(t, 1, rl.Limit)
	assert.Equal(t, 1, exec.Total())
}

func TestRouteQuery_DownstreamError(t *testing.T) {
	r, exec, _ := newTestRouter(t, model.LevelBasic, 0)
	boom := errors.New("connection refused")
	exec.fail["ser_inv"] = boom

	res := r.RouteQuery(context.Background(), "search for Uniswap", Options{})
	assert.False(t, res.Success)
	assert.Equal(t, KindDownstream, res.ErrorKind)
	assert.ErrorIs(t, res.Err, boom)
	var df *DownstreamFailure
	require.ErrorAs(t, res.Err, &df)
	assert.Equal(t, "rootdata", df.Provider)
	assert.Equal(t, "search_web3_entities", df.Tool)
}

func TestRouteQuery_SoftFailureNotCached(t *testing.T) {
	r, exec, _ := newTestRouter(t, model.LevelBasic, 0)
	exec.soft["ser_inv"] = "bad request"

	res := r.RouteQuery(context.Background(), "search for Uniswap", Options{})
	assert.Equal(t, KindDownstream, res.ErrorKind)
	assert.Contains(t, res.Error, "bad request")

	delete(exec.soft, "ser_inv")
	res = r.RouteQuery(context.Background(), "search for Uniswap", Options{})
	require.True(t, res.Success)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, exec.Calls("ser_inv"))
}

func TestRouteQuery_RecoversPanic(t *testing.T) {
	r, exec, _ := newTestRouter(t, model.LevelBasic, 0)
	exec.panics = true

	var res *Result
	require.NotPanics(t, func() {
		res = r.RouteQuery(context.Background(), "search for Uniswap", Options{})
	})
	assert.False(t, res.Success)
	assert.Equal(t, KindInternal, res.ErrorKind)
	assert.ErrorIs(t, res.Err, ErrInternal)
	assert.Equal(t, int64(1), r.Stats().ByErrorKind[string(KindInternal)])
}

// =============================================================================
// CREDITS
// =============================================================================

func newLedgerRouter(t *testing.T) (*Router, *fakeExecutor, *ledger.Ledger) {
	t.Helper()
	fake := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	exec := newFakeExecutor()
	a := newAdapter(t, exec, model.LevelBasic, 0)
	l := ledger.New(ledger.Options{Clock: fake})
	require.NoError(t, l.RegisterProvider(context.Background(), a, ledger.DefaultThresholds()))

	gov := governor.New(governor.Config{
		Cache: cache.New(cache.Options{Clock: fake}),
		Clock: fake,
	})
	r := New(Config{Governor: gov, Ledger: l, Clock: fake})
	require.NoError(t, r.RegisterProvider(a))
	return r, exec, l
}

func TestRouteQuery_ConsumesLedgerCredits(t *testing.T) {
	r, _, l := newLedgerRouter(t)
	ctx := context.Background()

	res := r.RouteQuery(ctx, "tell me about Aave", Options{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "get_project_details", res.Tool)
	require.NotNil(t, res.Credits)
	assert.Equal(t, 2, res.Credits.Consumed)
	assert.Equal(t, 498, res.Credits.Remaining)
	assert.Equal(t, "OK", res.Credits.Status)

	credits, ok := l.Credits("rootdata")
	require.True(t, ok)
	assert.Equal(t, 498, credits)

	cached := r.RouteQuery(ctx, "tell me about Aave", Options{})
	require.True(t, cached.FromCache)
	assert.Zero(t, cached.Credits.Consumed)
	credits, _ = l.Credits("rootdata")
	assert.Equal(t, 498, credits)
}

func TestRouteQuery_CreditsCheckSyncsLedger(t *testing.T) {
	r, exec, l := newLedgerRouter(t)
	_, err := l.Consume("rootdata", 100)
	require.NoError(t, err)

	exec.mu.Lock()
	exec.credits = 450
	exec.mu.Unlock()

	res := r.RouteQuery(context.Background(), "check my credits", Options{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 450, res.Credits.Remaining)
	credits, _ := l.Credits("rootdata")
	assert.Equal(t, 450, credits)
}

// =============================================================================
// PARAMETERS AND CATALOGUE
// =============================================================================

func TestBuildParams(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelPro, 100)

	got := r.BuildParams("search_web3_entities", "find Aave", nil, "en",
		Options{Params: map[string]any{"query": "ignored", "page": 2}})
	assert.Equal(t, map[string]any{"query": "find Aave", "language": "en", "page": 2}, got)

	got = r.BuildParams("get_trending_projects", "trending", nil, "en",
		Options{Params: map[string]any{"days": 30}})
	assert.Equal(t, 7, got["days"])

	got = r.BuildParams("get_trending_projects", "trending", nil, "en", Options{})
	assert.Equal(t, 1, got["days"])

	got = r.BuildParams("get_project_details", "details please", nil, "en",
		Options{Params: map[string]any{"project_id": 12}})
	assert.Equal(t, 12, got["project_id"])

	got = r.BuildParams("get_funding_rounds", "funding for Lido",
		[]Entity{{Type: EntityProject, Value: "Lido"}}, "en", Options{})
	assert.Equal(t, map[string]any{"page": 1, "page_size": 10, "project_name": "Lido"}, got)

	got = r.BuildParams("get_ecosystem_map", "Solana projects",
		[]Entity{{Type: EntityEcosystem, Value: "Solana"}}, "en", Options{})
	assert.Equal(t, map[string]any{"ecosystem": "Solana"}, got)

	got = r.BuildParams("unregistered_tool", "raw text", nil, "en", Options{})
	assert.Equal(t, map[string]any{"query": "raw text"}, got)
}

func TestRegisterProvider_Duplicate(t *testing.T) {
	r, exec, _ := newTestRouter(t, model.LevelBasic, 0)
	err := r.RegisterProvider(newAdapter(t, exec, model.LevelBasic, 0))
	assert.Error(t, err)
	assert.Error(t, r.RegisterProvider(nil))
}

func TestAvailableTools(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelBasic, 0)

	all := r.AvailableTools(ToolFilter{})
	assert.Len(t, all, len(provider.DefaultCatalog()))

	funding := r.AvailableTools(ToolFilter{Category: "funding"})
	require.Len(t, funding, 1)
	assert.Equal(t, "get_funding_rounds", funding[0].Tool.Name)
	assert.False(t, funding[0].Accessible)

	for _, info := range r.AvailableTools(ToolFilter{Accessible: true}) {
		assert.True(t, info.Accessible)
		assert.Equal(t, model.LevelBasic, info.Tool.RequiredLevel)
	}

	basic := model.LevelBasic
	for _, info := range r.AvailableTools(ToolFilter{Level: &basic}) {
		assert.Equal(t, model.LevelBasic, info.Tool.RequiredLevel)
	}
}

func TestRecommendedTools(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelBasic, 0)

	recs := r.RecommendedTools("search for Uniswap", 3)
	require.Len(t, recs, 3)
	assert.Equal(t, "search_web3_entities", recs[0].Tool)
	assert.InDelta(t, 1.6, recs[0].Score, 1e-9)
	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i-1].Score, recs[i].Score)
	}
}

func TestStats(t *testing.T) {
	r, _, _ := newTestRouter(t, model.LevelBasic, 0)
	ctx := context.Background()

	r.RouteQuery(ctx, "search for Uniswap", Options{DryRun: true})
	r.RouteQuery(ctx, "search for Uniswap", Options{})
	r.RouteQuery(ctx, "search for Uniswap", Options{})
	r.RouteQuery(ctx, "", Options{})

	s := r.Stats()
	assert.Equal(t, int64(4), s.TotalQueries)
	assert.Equal(t, int64(3), s.Successful)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(1), s.DryRuns)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(3), s.ByIntent[string(IntentSearch)])
	assert.Equal(t, int64(3), s.ByTool["search_web3_entities"])
	assert.Equal(t, int64(1), s.ByErrorKind[string(KindInvalidQuery)])
	assert.Equal(t, int64(2), s.Governor.Requests)
	assert.Equal(t, int64(1), s.Governor.CacheHits)
}
