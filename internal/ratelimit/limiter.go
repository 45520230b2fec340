// ABOUTME: Per-identity, per-operation-class fixed-window rate limiting
// ABOUTME: Non-blocking checks that report seconds until the window resets

package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Class identifies an operation class with its own limit. Reads are limited
// loosely; message sends tightly.
type Class string

const (
	// ClassRead covers idempotent list/get operations.
	ClassRead Class = "read"

	// ClassSend covers message sends, the expensive operations.
	ClassSend Class = "send"
)

// ClassLimit is the budget for one class: at most Requests per Window.
type ClassLimit struct {
	Requests int
	Window   time.Duration
}

// Decision is the outcome of a limit check. The limiter never blocks; a
// denied caller receives the time until the window resets and decides what
// to do with it.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at
// least 1 for a denial.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// windowKey identifies one counting window.
type windowKey struct {
	identity string
	class    Class
}

// window tracks the count for one identity+class inside the current window.
type window struct {
	start time.Time
	count int
}

// Limiter counts requests per (identity, operation class) in fixed windows.
// Windows are created lazily and cleaned up by a background goroutine once
// stale.
type Limiter struct {
	mu      sync.Mutex
	limits  map[Class]ClassLimit
	windows map[windowKey]*window
	done    chan struct{}
	closed  bool

	// now is replaceable for tests
	now func() time.Time
}

// New creates a limiter with the given per-class limits. Classes without a
// configured limit are unlimited.
func New(limits map[Class]ClassLimit) *Limiter {
	l := &Limiter{
		limits:  limits,
		windows: make(map[windowKey]*window),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go l.cleanup()
	return l
}

// Check records one request for (identity, class) if the budget allows it
// and answers immediately. A denial does not consume budget: the counter
// never exceeds the configured limit within a window.
func (l *Limiter) Check(identity string, class Class) Decision {
	limit, ok := l.limits[class]
	if !ok || limit.Requests <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := windowKey{identity: identity, class: class}

	w, exists := l.windows[key]
	if !exists || now.Sub(w.start) >= limit.Window {
		// Window elapsed (or never existed): start a fresh one
		w = &window{start: now}
		l.windows[key] = w
	}

	if w.count < limit.Requests {
		w.count++
		return Decision{Allowed: true, Remaining: limit.Requests - w.count}
	}

	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: limit.Window - now.Sub(w.start),
	}
}

// Remaining reports the unused budget for (identity, class) without
// consuming any.
func (l *Limiter) Remaining(identity string, class Class) int {
	limit, ok := l.limits[class]
	if !ok || limit.Requests <= 0 {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[windowKey{identity: identity, class: class}]
	if !exists || l.now().Sub(w.start) >= limit.Window {
		return limit.Requests
	}
	return limit.Requests - w.count
}

// Reset drops all counting state. Used by tests and admin tooling.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[windowKey]*window)
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

// cleanup periodically drops windows that elapsed long ago so idle
// identities don't accumulate state.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale()
		case <-l.done:
			return
		}
	}
}

// removeStale drops windows older than twice their class window.
func (l *Limiter) removeStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		limit, ok := l.limits[key.class]
		if !ok || now.Sub(w.start) >= 2*limit.Window {
			delete(l.windows, key)
		}
	}
}
