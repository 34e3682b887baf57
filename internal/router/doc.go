// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router turns free-text queries into scored downstream calls.
//
// Routing runs in fixed stages:
//
//  1. Intent: keyword and pattern rule sets are scored; the best one wins,
//     ties going to the earlier rule set. Nothing matching gives "unknown".
//  2. Entities: every pattern match of every entity type is reported,
//     without de-duplication.
//  3. Route: the intent's eligible tools are scored per registered provider
//     after access and credit filtering. No survivor is a normal outcome.
//  4. Params: a per-tool builder, fixed at provider registration, maps the
//     query and entities to call parameters.
//  5. Execution: the call goes through the resource governor and consumed
//     credits are reported to the ledger.
//
// RouteQuery always returns a *Result. Failures are described by
// Result.ErrorKind and Result.Err so callers can branch with errors.Is/As.
//
// # Usage
//
//	r := router.New(router.Config{Governor: gov, Ledger: l})
//	if err := r.RegisterProvider(adapter); err != nil {
//	    return err
//	}
//	res := r.RouteQuery(ctx, "search for Uniswap", router.Options{})
//	if errors.Is(res.Err, governor.ErrRateLimitExceeded) {
//	    // back off
//	}
package router
