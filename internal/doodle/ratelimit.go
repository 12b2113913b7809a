package doodle

import (
	"sync"
	"time"
)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window event throttle keyed by connection id.
// Because the window is fixed rather than sliding, a client can land up to
// twice the capacity across a window boundary; that behavior is observable
// and covered by tests rather than smoothed over.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*rateWindow
	window   time.Duration
	capacity int

	now func() time.Time // overridable in tests
}

// NewRateLimiter creates a limiter allowing capacity events per window
func NewRateLimiter(window time.Duration, capacity int) *RateLimiter {
	return &RateLimiter{
		windows:  make(map[string]*rateWindow),
		window:   window,
		capacity: capacity,
		now:      time.Now,
	}
}

// Allow records one event for the connection and reports whether it fits in
// the current window.
func (l *RateLimiter) Allow(connID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[connID]
	if !ok || now.After(w.resetAt) {
		l.windows[connID] = &rateWindow{count: 1, resetAt: now.Add(l.window)}
		return true
	}

	if w.count >= l.capacity {
		return false
	}

	w.count++
	return true
}

// Forget drops the window for a disconnected connection
func (l *RateLimiter) Forget(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, connID)
}
