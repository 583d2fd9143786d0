// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, time.AfterFunc, or time.Sleep directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when Advance
// is called.
//
// Steward's timeout paths — the session startup grace period, the
// terminate grace-then-kill escalation, and the inbound drain timeout —
// all run on an injected Clock so tests exercise them without real
// waiting.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Supervisor struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	supervisor := process.NewSupervisor(c, logger)
//	// ... start goroutines ...
//	c.WaitForTimers(1) // wait for goroutine to register a timer
//	c.Advance(5 * time.Second) // fire the timer deterministically
//
// WaitForTimers eliminates the race between a goroutine registering a
// timer and the test advancing the clock.
package clock
