// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data types shared by the router, the resource
// governor, the credit ledger and the provider adapters.
//
// # Key Types
//
//   - Response: Outcome of one downstream call (success flag, data, credits)
//   - ToolSpec: Catalogue entry describing a downstream operation
//   - CreditInfo: Balance and permission level reported by a provider
//   - Level: Provider permission tier (basic < plus < pro)
//   - Executor: Collaborator that performs downstream calls
//
// # Usage
//
//	resp, err := exec.Execute(ctx, "ser_inv", map[string]any{"query": "Uniswap"})
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("credits used: %d\n", resp.CreditsConsumed)
package model
