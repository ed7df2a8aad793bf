// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at the given instant. Time moves
// only when Advance is called; every timer, ticker, and sleep taken
// from the clock registers a pending entry that fires once the clock
// passes its deadline.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.pendingChanged = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. Advance fires expired
// entries in deadline order. AfterFunc callbacks run synchronously
// inside Advance, so they must not call Sleep or Advance themselves.
type FakeClock struct {
	mu             sync.Mutex
	current        time.Time
	pending        []*pendingEntry
	pendingChanged *sync.Cond
}

// pendingEntry is one registered timer, ticker, sleep, or callback.
type pendingEntry struct {
	deadline time.Time

	// ch receives the fire time for After, Sleep, and ticker entries.
	// Nil for AfterFunc entries.
	ch chan time.Time

	// fn runs synchronously during Advance for AfterFunc entries.
	fn func()

	// every is non-zero for ticker entries; the entry is rescheduled
	// at deadline + every after firing.
	every time.Duration

	// stopped entries are skipped and dropped during Advance.
	stopped bool

	// fired marks one-shot entries that already delivered, so an
	// overlapping Advance cannot fire them twice.
	fired bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock advances past
// the deadline. A non-positive d delivers immediately without
// registering an entry.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}

	c.pending = append(c.pending, &pendingEntry{
		deadline: c.current.Add(d),
		ch:       ch,
	})
	c.pendingChanged.Broadcast()
	return ch
}

// AfterFunc schedules f to run when the clock advances past the
// deadline. The returned Timer's C is nil. A non-positive d runs f
// synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d <= 0 {
		c.mu.Unlock()
		f()
		c.mu.Lock()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	entry := &pendingEntry{
		deadline: c.current.Add(d),
		fn:       f,
	}
	c.pending = append(c.pending, entry)
	c.pendingChanged.Broadcast()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if entry.stopped || entry.fired {
				return false
			}
			entry.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := !entry.stopped && !entry.fired
			entry.stopped = false
			entry.fired = false
			entry.deadline = c.current.Add(d)
			// A fired entry was removed from the pending list, so
			// resetting it must re-register.
			if !wasActive {
				c.pending = append(c.pending, entry)
				c.pendingChanged.Broadcast()
			}
			return wasActive
		},
	}
}

// NewTicker returns a Ticker firing every d once the clock advances
// past each successive deadline. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	entry := &pendingEntry{
		deadline: c.current.Add(d),
		ch:       ch,
		every:    d,
	}
	c.pending = append(c.pending, entry)
	c.pendingChanged.Broadcast()

	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.stopped = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			entry.every = d
			entry.deadline = c.current.Add(d)
			entry.stopped = false
		},
	}
}

// Sleep blocks the calling goroutine until the clock advances past
// the deadline. A non-positive d returns immediately.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every entry whose
// deadline now falls in the past, in deadline order. Channel sends are
// non-blocking; AfterFunc callbacks run in the calling goroutine.
//
// A ticker whose interval the advance spans several times over fires
// once per interval, dropping ticks that overflow its channel buffer.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}

		sort.Slice(expired, func(i, j int) bool {
			return expired[i].deadline.Before(expired[j].deadline)
		})

		for _, entry := range expired {
			if entry.fn != nil {
				entry.fn()
			} else if entry.ch != nil {
				select {
				case entry.ch <- target:
				default:
				}
			}
		}
	}
}

// takeExpired removes expired entries from the pending list,
// reschedules tickers, and returns what should fire. Called without
// c.mu held.
func (c *FakeClock) takeExpired(target time.Time) []*pendingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired, remaining []*pendingEntry
	for _, entry := range c.pending {
		if entry.stopped {
			continue
		}
		if !entry.deadline.After(target) {
			expired = append(expired, entry)
		} else {
			remaining = append(remaining, entry)
		}
	}

	for _, entry := range expired {
		if entry.every > 0 {
			entry.deadline = entry.deadline.Add(entry.every)
			remaining = append(remaining, entry)
		} else {
			entry.fired = true
		}
	}

	c.pending = remaining
	return expired
}

// WaitForTimers blocks until at least n entries are pending. Tests use
// it to wait for a goroutine to register its timer before advancing
// the clock past the deadline.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.pendingChanged.Wait()
	}
}

// PendingCount returns the number of active pending entries.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	n := 0
	for _, entry := range c.pending {
		if !entry.stopped {
			n++
		}
	}
	return n
}
