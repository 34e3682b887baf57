// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rootgate.
//
// Supports both TOML and JSON configuration formats, with defaults,
// environment variable overrides, validation and hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - CacheConfig, RateLimitConfig, BatchConfig: resource governor settings
//   - CreditsConfig: credit ledger thresholds and history store
//   - ProviderConfig, DownstreamConfig: the data provider and its HTTP client
//   - ServerConfig, LogConfig: the HTTP API and log rotation
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (ROOTGATE_*)
//   - ~/.rootgate/config.toml
//   - ~/.rootgate/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Reload on change:
//
//	stop, err := config.Watch(path, func(cfg *config.Config, err error) { ... })
package config
