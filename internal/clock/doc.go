// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clock provides the time source used by every stateful component.
//
// Components never call time.Now or time.AfterFunc directly. They take a
// Clock so tests can drive expiry, sliding windows and delayed flushes with a
// Fake clock instead of sleeping.
//
// # Usage
//
//	c := clock.NewFake(time.Unix(0, 0))
//	t := c.AfterFunc(100*time.Millisecond, flush)
//	c.Advance(150 * time.Millisecond) // flush runs here
//	_ = t.Stop()                      // false, already fired
package clock
