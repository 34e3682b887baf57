// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"

	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/provider"
)

// ============================================================================
// ROUTE TABLE
// ============================================================================

const (
	categoryBonus      = 0.5
	entityMentionBonus = 0.3

	// defaultTool serves intents without an explicit mapping.
	defaultTool = "search_web3_entities"
)

// intentTools lists the eligible tools per intent, best first.
var intentTools = map[IntentType][]string{
	IntentSearch:              {"search_web3_entities"},
	IntentProjectDetails:      {"get_project_details", "search_web3_entities"},
	IntentOrganizationDetails: {"get_organization_details", "search_web3_entities"},
	IntentPeopleDetails:       {"get_people_details", "search_web3_entities"},
	IntentFundingInfo:         {"get_funding_rounds", "get_project_details"},
	IntentEcosystemAnalysis:   {"get_ecosystem_map", "search_web3_entities"},
	IntentTrending:            {"get_trending_projects"},
	IntentCreditsCheck:        {"check_credits"},
}

// intentCategory is the tool category that earns the category bonus.
var intentCategory = map[IntentType]string{
	IntentSearch:              "search",
	IntentProjectDetails:      "project",
	IntentOrganizationDetails: "organization",
	IntentPeopleDetails:       "people",
	IntentFundingInfo:         "funding",
	IntentEcosystemAnalysis:   "ecosystem",
	IntentTrending:            "trending",
	IntentCreditsCheck:        "account",
}

// eligibleTools returns the candidate tool ids for an intent.
func eligibleTools(intent IntentType) []string {
	if tools, ok := intentTools[intent]; ok {
		return tools
	}
	return []string{defaultTool}
}

// scoreRoute computes a candidate's score.
func scoreRoute(intent Intent, entities []Entity, tool model.ToolSpec) float64 {
	score := intent.Confidence
	if cat, ok := intentCategory[intent.Type]; ok && cat == tool.Category {
		score += categoryBonus
	}
	name := strings.ToLower(tool.Name)
	for _, e := range entities {
		if strings.Contains(name, strings.ToLower(string(e.Type))) {
			score += e.Confidence * entityMentionBonus
		}
	}
	return score
}

// candidate is a registered tool able to serve a route.
type candidate struct {
	adapter provider.Adapter
	tool    model.ToolSpec
}

// SelectBestRoute picks the highest scoring (provider, tool) pair among the
// intent's eligible tools, or opts.Tool when set. Providers that deny
// access at the tool's level or lack its credits are skipped. The first
// candidate wins ties. Nil means nothing survived.
func (r *Router) SelectBestRoute(intent Intent, entities []Entity, opts Options) *Route {
	tools := eligibleTools(intent.Type)
	if opts.Tool != "" {
		tools = []string{opts.Tool}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Route
	for _, toolID := range tools {
		for _, providerID := range r.order {
			if opts.Provider != "" && providerID != opts.Provider {
				continue
			}
			reg := r.providers[providerID]
			tool, ok := reg.tools[toolID]
			if !ok {
				continue
			}
			if !reg.adapter.HasAccess(tool.RequiredLevel) || !reg.adapter.HasCredits(tool.CreditsPerCall) {
				continue
			}
			score := scoreRoute(intent, entities, tool)
			if best == nil || score > best.Score {
				best = &Route{ProviderID: providerID, ToolID: toolID, Definition: tool, Score: score}
			}
		}
	}
	return best
}

// lookupLocked returns the registered tool for a route (must hold read lock).
func (r *Router) lookupLocked(providerID, toolID string) (candidate, bool) {
	reg, ok := r.providers[providerID]
	if !ok {
		return candidate{}, false
	}
	tool, ok := reg.tools[toolID]
	if !ok {
		return candidate{}, false
	}
	return candidate{adapter: reg.adapter, tool: tool}, true
}
