// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ============================================================================
// INTENT RULES
// ============================================================================

const (
	keywordWeight = 0.1
	patternWeight = 0.5
)

type intentRule struct {
	intent   IntentType
	keywords []string
	patterns []*regexp.Regexp
	weight   float64
}

// intentRules is evaluated in order; on equal scores the earlier rule wins.
var intentRules = []intentRule{
	{
		intent:   IntentSearch,
		keywords: []string{"search", "find", "look up", "lookup", "discover"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(search|find|look\s*up)\b\s+(for\s+)?\S+`),
		},
		weight: 1.0,
	},
	{
		intent:   IntentProjectDetails,
		keywords: []string{"project", "details", "protocol", "tokenomics", "about"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(tell me about|details (of|for|on|about)|info(rmation)? (about|on))\b`),
			regexp.MustCompile(`(?i)\bwhat is\b`),
		},
		weight: 1.0,
	},
	{
		intent:   IntentOrganizationDetails,
		keywords: []string{"organization", "organisation", "venture", "investor", "vc firm", "capital", "labs"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(vc|venture capital|investment (firm|fund)|portfolio)\b`),
		},
		weight: 1.0,
	},
	{
		intent:   IntentPeopleDetails,
		keywords: []string{"founder", "ceo", "team", "person", "people", "who is"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bwho (is|are)\b`),
			regexp.MustCompile(`(?i)\b(co-?founder|founder|ceo|cto)s? of\b`),
		},
		weight: 1.0,
	},
	{
		intent:   IntentFundingInfo,
		keywords: []string{"funding", "fundraising", "raised", "investment", "round", "valuation"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(series [a-d]|seed round|pre-seed)\b`),
			regexp.MustCompile(`(?i)\bfunding rounds?\b`),
			regexp.MustCompile(`(?i)\bhow much\b.*\braise`),
		},
		weight: 1.1,
	},
	{
		intent:   IntentEcosystemAnalysis,
		keywords: []string{"ecosystem", "chain", "layer 2", "built on", "network"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b\w+ ecosystem\b`),
			regexp.MustCompile(`(?i)\bprojects (on|built on)\b`),
		},
		weight: 1.0,
	},
	{
		intent:   IntentTrending,
		keywords: []string{"trending", "hot", "popular", "rising", "hype"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(trending|hot|top|popular)\s+(projects|tokens|coins)\b`),
		},
		weight: 1.0,
	},
	{
		intent:   IntentCreditsCheck,
		keywords: []string{"credits", "credit", "balance", "quota", "remaining"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(check|show|how many|remaining)\b.*\b(credits?|quota)\b`),
		},
		weight: 1.2,
	},
}

// AnalyzeIntent scores every rule set against text. Each contained keyword
// adds its rune length times 0.1 and each matching pattern adds 0.5; the
// sum is scaled by the rule set's weight. A query matching nothing is
// IntentUnknown with confidence 0.
//
// Keywords match as plain substrings of the lower-cased text, so "credit"
// also counts inside "credits" and "hot" inside "photo". Word boundaries
// live in the patterns.
func AnalyzeIntent(text string) Intent {
	lower := strings.ToLower(text)

	best := Intent{Type: IntentUnknown, Confidence: 0, MatchedKeywords: []string{}}
	for _, rule := range intentRules {
		var score float64
		var matched []string

		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				score += float64(utf8.RuneCountInString(kw)) * keywordWeight
				matched = append(matched, kw)
			}
		}
		for _, p := range rule.patterns {
			if p.MatchString(text) {
				score += patternWeight
			}
		}
		score *= rule.weight

		if score > 0 && score > best.Confidence {
			if matched == nil {
				matched = []string{}
			}
			best = Intent{Type: rule.intent, Confidence: score, MatchedKeywords: matched}
		}
	}
	return best
}
