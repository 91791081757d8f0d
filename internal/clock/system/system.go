// Package system provides the wall clock used by watchers and the gate.
package system

import "time"

// Clock implements watch.Clock. Readings are UTC and truncated to
// microseconds, the precision Postgres and SQLite keep, so a persisted
// AvailableSince compares equal to the value the gate computed with.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
