package clock

import "time"

// Clock abstracts wall-clock reads so scheduling, escalation grace, and
// expiry decisions stay deterministic under test.
// Params: none.
// Returns: current time source.
type Clock interface {
	Now() time.Time
}

// RealClock is the production time source.
// Params: none.
// Returns: system time normalized to UTC.
type RealClock struct{}

// Now reads the system clock.
// Params: none.
// Returns: current time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
