// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import "regexp"

// entityConfidence is assigned to every pattern match.
const entityConfidence = 0.8

type entityRule struct {
	entity   EntityType
	patterns []*regexp.Regexp
}

// entityRules are applied in order. Capture group 1 is the value when the
// pattern has one, otherwise the whole match.
var entityRules = []entityRule{
	{
		entity: EntityProject,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(Uniswap|Aave|Compound|MakerDAO|Curve|Lido|Chainlink|OpenSea|dYdX|PancakeSwap|SushiSwap|Balancer|Synthetix|Yearn|GMX|Pendle|EigenLayer|Ethena)\b`),
			regexp.MustCompile(`\b(?:for|about|of|on)\s+([A-Z][a-zA-Z0-9]+)`),
		},
	},
	{
		entity: EntityToken,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\$([A-Z][A-Z0-9]{1,9})\b`),
			regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,5})\s+(?i:token)\b`),
		},
	},
	{
		entity: EntityOrganization,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b((?:[A-Z][a-zA-Z0-9]*\s+)+(?:Capital|Ventures|Labs|Partners|Fund|Foundation|Research))\b`),
			regexp.MustCompile(`(?i)\b(a16z|Paradigm|Sequoia|Polychain|Pantera|Multicoin|Dragonfly)\b`),
		},
	},
	{
		entity: EntityPerson,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i:who\s+is)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)`),
			regexp.MustCompile(`\b(Vitalik Buterin|Hayden Adams|Stani Kulechov|Changpeng Zhao|Brian Armstrong|Anatoly Yakovenko)\b`),
		},
	},
	{
		entity: EntityEcosystem,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(Ethereum|Solana|Polygon|Arbitrum|Optimism|Avalanche|BNB Chain|Cosmos|Polkadot|Base|TON|Sui|Aptos|Near|Bitcoin)\b`),
			regexp.MustCompile(`\b([A-Z][a-zA-Z0-9]+)\s+(?i:ecosystem)\b`),
		},
	},
	{
		entity: EntityAddress,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`),
		},
	},
}

// ExtractEntities returns every match of every entity pattern in discovery
// order. Overlapping matches across types are all kept.
func ExtractEntities(text string) []Entity {
	entities := []Entity{}
	for _, rule := range entityRules {
		for _, p := range rule.patterns {
			for _, m := range p.FindAllStringSubmatch(text, -1) {
				value := m[0]
				if len(m) > 1 && m[1] != "" {
					value = m[1]
				}
				entities = append(entities, Entity{
					Type:       rule.entity,
					Value:      value,
					Confidence: entityConfidence,
					Source:     SourcePattern,
				})
			}
		}
	}
	return entities
}

// firstEntity returns the value of the first entity of type t.
func firstEntity(entities []Entity, t EntityType) (string, bool) {
	for _, e := range entities {
		if e.Type == t {
			return e.Value, true
		}
	}
	return "", false
}
