package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can freeze time via SetClock.
// Production code uses the real clock; tests inject a fake for deterministic output.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source for horizon calculations. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time from the package clock.
func Now() time.Time { return clock.Now() }

// DefaultHorizon is yesterday (UTC), the latest day upstream could have
// published. See PublishedHorizon for what it actually has.
func DefaultHorizon() time.Time {
	return Day(clock.Now()).AddDate(0, 0, -1)
}

// IsTrailingEdge reports whether day is recent enough that upstream may still
// revise it. Older days never change.
func IsTrailingEdge(day time.Time) bool {
	return !Day(day).Before(DefaultHorizon())
}
