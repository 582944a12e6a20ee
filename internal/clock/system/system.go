// Package system provides the wall clock used for run bookkeeping.
package system

import "time"

// Clock implements crawler.Clock. Times are UTC and truncated to the
// microsecond so they survive a round trip through either store.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
