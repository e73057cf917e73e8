package governor

import (
	"sync"
	"time"
)

// Throttle enforces a minimum interval between accepted requests for the same
// key. Last-seen state is never evicted; the key space is expected to stay
// small (ticker symbols).
type Throttle struct {
	MinInterval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottle returns a throttle with the given minimum interval.
func NewThrottle(minInterval time.Duration) *Throttle {
	return &Throttle{MinInterval: minInterval, last: make(map[string]time.Time)}
}

// Check reports whether key may be used at now without recording it.
func (t *Throttle) Check(key string, now time.Time) (bool, time.Duration) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked(key, now)
}

// Record marks key as used at now.
func (t *Throttle) Record(key string, now time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		t.last = make(map[string]time.Time)
	}
	t.last[key] = now
}

// CheckAndRecord admits key at now or returns the remaining interval.
func (t *Throttle) CheckAndRecord(key string, now time.Time) (bool, time.Duration) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed, wait := t.checkLocked(key, now)
	if allowed {
		if t.last == nil {
			t.last = make(map[string]time.Time)
		}
		t.last[key] = now
	}
	return allowed, wait
}

// Keys returns the number of keys with recorded state.
func (t *Throttle) Keys() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}

func (t *Throttle) checkLocked(key string, now time.Time) (bool, time.Duration) {
	last, ok := t.last[key]
	if !ok || t.MinInterval <= 0 {
		return true, 0
	}

	elapsed := now.Sub(last)
	if elapsed < t.MinInterval {
		return false, t.MinInterval - elapsed
	}
	return true, 0
}
