package relay

import (
	"sync/atomic"
	"time"
)

// Deadline is a shared, pushable "no activity before this point" marker.
// Both transfer directions push it forward on every successful read or
// write; a single supervisor goroutine watches it to implement the
// session-wide idle timeout. The time point is stored as nanoseconds
// since the Unix epoch in an atomic int64 so concurrent pushes from the
// uplink and downlink goroutines never produce a torn read.
type Deadline struct {
	nanos atomic.Int64
}

// NewDeadline returns a Deadline already expired (so a Session that never
// calls ExpiresAfter is not accidentally treated as immortal).
func NewDeadline() *Deadline {
	return &Deadline{}
}

// ExpiresAfter pushes the deadline forward to now + interval. Safe to call
// concurrently from both transfer directions.
func (d *Deadline) ExpiresAfter(interval time.Duration) {
	d.nanos.Store(time.Now().Add(interval).UnixNano())
}

// TimePoint returns the current deadline.
func (d *Deadline) TimePoint() time.Time {
	return time.Unix(0, d.nanos.Load())
}

// IsExpired reports whether now is at or past the current deadline.
func (d *Deadline) IsExpired() bool {
	return time.Now().UnixNano() >= d.nanos.Load()
}
