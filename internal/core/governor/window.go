package governor

import (
	"sync"
	"time"
)

// Window is a sliding-window limiter shared by every governed operation.
// Timestamps are kept oldest first and pruned lazily on each check.
type Window struct {
	Size time.Duration
	Max  int

	mu     sync.Mutex
	stamps []time.Time
}

// NewWindow returns a window admitting at most max requests per size.
func NewWindow(size time.Duration, max int) *Window {
	return &Window{Size: size, Max: max}
}

// Check reports whether a request at now fits in the window without recording it.
func (w *Window) Check(now time.Time) (bool, time.Duration) {
	if w == nil {
		return true, 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkLocked(now)
}

// Record appends now to the window.
func (w *Window) Record(now time.Time) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.stamps = append(w.stamps, now)
	w.mu.Unlock()
}

// CheckAndRecord admits and records a request at now, or returns how long the
// caller should wait before the oldest request leaves the window.
func (w *Window) CheckAndRecord(now time.Time) (bool, time.Duration) {
	if w == nil {
		return true, 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	allowed, wait := w.checkLocked(now)
	if allowed {
		w.stamps = append(w.stamps, now)
	}
	return allowed, wait
}

// Len returns the number of requests still inside the window at now.
func (w *Window) Len(now time.Time) int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.stamps)
}

func (w *Window) checkLocked(now time.Time) (bool, time.Duration) {
	if w.Max <= 0 {
		return true, 0
	}

	w.pruneLocked(now)
	if len(w.stamps) < w.Max {
		return true, 0
	}

	wait := w.Size - now.Sub(w.stamps[0])
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.Size)
	drop := 0
	for drop < len(w.stamps) && w.stamps[drop].Before(cutoff) {
		drop++
	}
	if drop == 0 {
		return
	}
	// Copy down so the backing array does not grow without bound.
	n := copy(w.stamps, w.stamps[drop:])
	w.stamps = w.stamps[:n]
}
