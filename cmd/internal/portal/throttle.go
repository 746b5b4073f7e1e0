package portal

import (
	"sync"
	"time"
)

// Throttle counts failed logins per key in a sliding window.
type Throttle struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	fails  map[string][]time.Time
	swept  time.Time
}

// NewThrottle allows limit failures per window. limit <= 0 disables throttling.
func NewThrottle(limit int, window time.Duration) *Throttle {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Throttle{
		limit:  limit,
		window: window,
		fails:  make(map[string][]time.Time),
	}
}

// Blocked reports whether key is over the limit at now and, if so, for how long.
func (t *Throttle) Blocked(key string, now time.Time) (bool, time.Duration) {
	if t == nil || t.limit <= 0 || key == "" {
		return false, 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.pruneLocked(key, now)
	if len(events) < t.limit {
		return false, 0
	}
	return true, events[0].Add(t.window).Sub(now)
}

// Fail records a failed attempt for key.
func (t *Throttle) Fail(key string, now time.Time) {
	if t == nil || t.limit <= 0 || key == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.fails[key] = append(t.pruneLocked(key, now), now)
	if now.Sub(t.swept) >= t.window {
		t.sweepLocked(now)
	}
}

// Len returns the number of keys with failures still in the window.
func (t *Throttle) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fails)
}

// sweepLocked drops every key whose failures have all aged out.
func (t *Throttle) sweepLocked(now time.Time) {
	for key := range t.fails {
		t.pruneLocked(key, now)
	}
	t.swept = now
}

// Reset forgets key, e.g. after a successful login.
func (t *Throttle) Reset(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.fails, key)
	t.mu.Unlock()
}

func (t *Throttle) pruneLocked(key string, now time.Time) []time.Time {
	cut := now.Add(-t.window)
	events := t.fails[key]
	dst := events[:0]
	for _, ts := range events {
		if ts.After(cut) {
			dst = append(dst, ts)
		}
	}
	if len(dst) == 0 {
		delete(t.fails, key)
		return nil
	}
	t.fails[key] = dst
	return dst
}
