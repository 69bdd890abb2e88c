package relay

import (
	"context"
	"net"
	"sync"
	"time"
)

// Watchdog is a rearmable, one-shot timeout primitive bound to exactly one
// I/O phase at a time: a name resolution, a single connect attempt, or one
// handshake read/write. Arming it clears any previous expiry and schedules
// a fresh deadline; arming again before the previous deadline fires simply
// replaces it.
//
// Arm returns a context.Context that is cancelled when the watchdog fires,
// for context-aware operations (resolver lookups, dialer connects), and
// also pushes the same deadline onto any net.Conn passed in, so that a
// plain blocking Read/Write unblocks the moment the watchdog expires.
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	expired bool
	gen     uint64
	due     time.Time
}

// NewWatchdog returns an unarmed Watchdog.
func NewWatchdog() *Watchdog {
	return &Watchdog{}
}

// Arm (re)schedules the watchdog to fire after interval. It returns a
// context cancelled on expiry, and applies the equivalent deadline to
// every conn supplied so blocking socket calls are bounded too.
func (w *Watchdog) Arm(interval time.Duration, conns ...net.Conn) context.Context {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.expired = false
	w.gen++
	gen := w.gen
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	deadline := time.Now().Add(interval)
	w.due = deadline
	w.timer = time.AfterFunc(interval, func() {
		w.mu.Lock()
		if w.gen == gen {
			w.expired = true
		}
		w.mu.Unlock()
		cancel()
	})
	w.mu.Unlock()

	for _, c := range conns {
		_ = c.SetDeadline(deadline)
	}
	return ctx
}

// Expired reports whether the most recently armed interval elapsed
// without being superseded by a later Arm call or by Stop. It is true as
// soon as the interval's end is reached, even if the timer callback has
// not run yet, so a Read/Write unblocked by the conn deadline sees it.
func (w *Watchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired || (!w.due.IsZero() && !time.Now().Before(w.due))
}

// Stop cancels any pending timer without marking the watchdog expired.
// Callers use this once an I/O operation the watchdog was guarding has
// completed successfully, to release the timer promptly instead of
// waiting for it to fire into a no-op.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.due = time.Time{}
	if w.cancel != nil {
		w.cancel()
	}
	if w.timer != nil {
		w.timer.Stop()
	}
}
