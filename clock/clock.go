// Package clock is the monotonic time source used for all scheduling
// decisions in the runtime. Every deadline the loop and timer heap deal
// with is a Time, never a wall-clock time.Time, so NTP/system clock
// adjustments never perturb ordering.
package clock

import "time"

// Time is a monotonic instant, measured in nanoseconds since an arbitrary
// process-local epoch (time.Now()'s monotonic reading).
type Time struct {
	t time.Time
}

// Now returns the current monotonic instant.
func Now() Time {
	return Time{t: time.Now()}
}

// IsZero reports whether this Time is the zero value (used the way the
// source uses a zero deadline to mean "no timeout").
func (t Time) IsZero() bool { return t.t.IsZero() }

// Add returns t+d.
func (t Time) Add(d time.Duration) Time {
	return Time{t: t.t.Add(d)}
}

// Sub returns the duration between two instants, t-u.
func (t Time) Sub(u Time) time.Duration {
	return t.t.Sub(u.t)
}

// After reports whether t is strictly after u.
func (t Time) After(u Time) bool { return t.t.After(u.t) }

// Before reports whether t is strictly before u.
func (t Time) Before(u Time) bool { return t.t.Before(u.t) }

// Until returns the duration remaining until t, which may be negative.
func (t Time) Until() time.Duration {
	return t.t.Sub(time.Now())
}
