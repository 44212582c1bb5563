// Package system provides the wall clock the tracker service runs on.
package system

import "time"

// DefaultPrecision matches Postgres timestamptz, so a timestamp read back
// from any backend equals the one that was written.
const DefaultPrecision = time.Microsecond

// Clock implements tracker.Clock with UTC wall time truncated to a fixed
// precision. The result carries no monotonic reading.
type Clock struct {
	precision time.Duration
}

// New creates a Clock with DefaultPrecision.
func New() *Clock {
	return &Clock{precision: DefaultPrecision}
}

// NewWithPrecision creates a Clock truncating to p; p <= 0 keeps nanoseconds.
func NewWithPrecision(p time.Duration) *Clock {
	return &Clock{precision: p}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision > 0 {
		now = now.Truncate(c.precision)
	}
	return now
}
