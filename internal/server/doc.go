// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the gateway over a JSON HTTP API.
//
// # Endpoints
//
//   - POST /v1/route                           - Route and execute a query
//   - GET  /v1/tools                           - List registered tools
//   - GET  /v1/tools/recommended?q=            - Score tools against a query
//   - GET  /v1/stats                           - Routing and governor counters
//   - GET  /v1/credits                         - Credit overview
//   - GET  /v1/credits/{provider}              - One provider's balance
//   - GET  /v1/credits/{provider}/prediction   - Consumption forecast
//   - GET  /v1/credits/{provider}/history      - Stored consumption history
//   - GET  /health                             - Health check
//   - GET  /metrics                            - Prometheus metrics
//
// # Middleware
//
//   - Optional bearer token authentication with constant-time comparison
//   - Optional IP allowlist
//   - Per-client token bucket rate limiting
//   - Security headers, request logging and panic recovery
//
// # Usage
//
//	srv := server.New(gw, server.Options{Addr: ":8787"})
//	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//		log.Fatal(err)
//	}
package server
