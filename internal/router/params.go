// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

// ============================================================================
// PARAMETER BUILDERS
// ============================================================================

// ParamInput is everything a builder may use.
type ParamInput struct {
	Query    string
	Entities []Entity
	Language string
	Options  Options
}

// ParamBuilder maps a query onto one tool's call parameters.
type ParamBuilder func(in ParamInput) map[string]any

const (
	defaultTrendingDays = 1
	maxTrendingDays     = 7
	defaultPageSize     = 10
)

// builtinBuilders is keyed by tool name. Tools without an entry get
// queryBuilder.
var builtinBuilders = map[string]ParamBuilder{
	"search_web3_entities":     searchBuilder,
	"get_project_details":      detailBuilder(EntityProject, "project_id", map[string]any{"include_team": true, "include_investors": true}),
	"get_organization_details": detailBuilder(EntityOrganization, "org_id", map[string]any{"include_team": true, "include_investments": true}),
	"get_people_details":       detailBuilder(EntityPerson, "people_id", nil),
	"get_funding_rounds":       fundingBuilder,
	"get_ecosystem_map":        ecosystemBuilder,
	"get_trending_projects":    trendingBuilder,
	"check_credits":            emptyBuilder,
}

// builderFor returns the builder for a tool name.
func builderFor(toolName string) ParamBuilder {
	if b, ok := builtinBuilders[toolName]; ok {
		return b
	}
	return queryBuilder
}

func searchBuilder(in ParamInput) map[string]any {
	params := map[string]any{"query": in.Query}
	if in.Language != "" {
		params["language"] = in.Language
	}
	return params
}

// detailBuilder prefers the first entity of the expected type, then an
// identifier from the options, then the raw query.
func detailBuilder(expected EntityType, idKey string, extra map[string]any) ParamBuilder {
	return func(in ParamInput) map[string]any {
		params := make(map[string]any, len(extra)+1)
		for k, v := range extra {
			params[k] = v
		}
		switch {
		case hasEntity(in.Entities, expected):
			v, _ := firstEntity(in.Entities, expected)
			params[idKey] = v
		case in.Options.Params[idKey] != nil:
			params[idKey] = in.Options.Params[idKey]
		default:
			params[idKey] = in.Query
		}
		return params
	}
}

func fundingBuilder(in ParamInput) map[string]any {
	params := map[string]any{"page": 1, "page_size": defaultPageSize}
	if v, ok := firstEntity(in.Entities, EntityProject); ok {
		params["project_name"] = v
	}
	return params
}

func ecosystemBuilder(in ParamInput) map[string]any {
	if v, ok := firstEntity(in.Entities, EntityEcosystem); ok {
		return map[string]any{"ecosystem": v}
	}
	return map[string]any{"ecosystem": in.Query}
}

func trendingBuilder(in ParamInput) map[string]any {
	days := defaultTrendingDays
	switch v := in.Options.Params["days"].(type) {
	case int:
		days = v
	case float64:
		days = int(v)
	}
	if days < 1 {
		days = defaultTrendingDays
	}
	if days > maxTrendingDays {
		days = maxTrendingDays
	}
	return map[string]any{"days": days}
}

func emptyBuilder(ParamInput) map[string]any {
	return map[string]any{}
}

func queryBuilder(in ParamInput) map[string]any {
	return map[string]any{"query": in.Query}
}

func hasEntity(entities []Entity, t EntityType) bool {
	_, ok := firstEntity(entities, t)
	return ok
}

// mergeParams adds pass-through options under keys the builder left unset.
func mergeParams(built, extra map[string]any) map[string]any {
	for k, v := range extra {
		if _, set := built[k]; !set {
			built[k] = v
		}
	}
	return built
}
