// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress computes deterministic scan progress percentages.
//
// Percent is the pure formula; Tracker wraps it with the per-scan
// monotonicity guarantee: a value lower than the previously reported one
// for the same scan is rounded up to the previous value, so consumers
// never see progress move backwards within a single stream.
package progress

import (
	"math"
	"sync"
)

// Percent returns the progress percentage for analyzed items out of total.
//
// Returns 0 when total <= 0. The analyzed count is clamped to [0, total]
// before rounding, so callers can pass resume offsets without range checks.
func Percent(analyzed, total int) int {
	if total <= 0 {
		return 0
	}
	if analyzed < 0 {
		analyzed = 0
	}
	if analyzed > total {
		analyzed = total
	}
	return int(math.Round(100 * float64(analyzed) / float64(total)))
}

// Tracker reports monotonic non-decreasing percentages for a single scan.
//
// The orchestrator holds one Tracker per scan stream. It is safe for
// concurrent use, although in practice a scan has a single producer.
type Tracker struct {
	mu   sync.Mutex
	last int
}

// NewTracker returns a Tracker starting at 0%.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Report computes Percent(analyzed, total), clamped so the result is never
// below the previously reported value for this tracker.
func (t *Tracker) Report(analyzed, total int) int {
	return t.Clamp(Percent(analyzed, total))
}

// Clamp raises pct to the previously reported value if it regressed, and
// records the result as the new floor.
func (t *Tracker) Clamp(pct int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pct < t.last {
		pct = t.last
	}
	t.last = pct
	return pct
}

// Last returns the most recently reported percentage.
func (t *Tracker) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
