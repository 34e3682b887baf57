// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the gateway packages.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writes with fsync and rename
//   - TruncateRunes: UTF-8 safe truncation for log lines
//   - TruncateWidth, PadRight: display-width aware helpers for CLI tables
//
// # Usage
//
//	log.Printf("QUERY | q=%q", util.TruncateRunes(query, 80))
//	err := util.AtomicWriteFile(path, data, 0600)
package util
