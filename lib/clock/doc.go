// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that timer-driven code can be tested
// deterministically.
//
// The sync engine sleeps between failed long-poll attempts and applies
// exponential backoff. Testing that schedule against the real time
// package means flaky, slow tests. Instead, code that needs timers
// takes a Clock value: Real() in production, Fake() in tests.
//
// A struct that uses time carries a Clock field:
//
//	type Engine struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// and tests drive it like this:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	engine := &Engine{clock: c}
//	// ... start the engine's goroutine ...
//	c.WaitForTimers(1)             // engine has registered its sleep
//	c.Advance(2 * time.Second)     // sleep fires, engine proceeds
//
// WaitForTimers removes the race between a goroutine registering a
// timer and the test advancing the clock: the test blocks until the
// timer exists, then advances past its deadline.
package clock
