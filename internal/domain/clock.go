package domain

import "github.com/jonboulle/clockwork"

// Clock is the time source hour keys are derived from. Components take it
// explicitly so tests can freeze time with clockwork.NewFakeClockAt.
type Clock = clockwork.Clock

// OrRealClock returns c, or the wall clock when c is nil.
func OrRealClock(c Clock) Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}
