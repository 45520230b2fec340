// ABOUTME: Tests for the fixed-window rate limiter
// ABOUTME: Validates budget enforcement, retry hints, window reset, and concurrency

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time explicitly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(limits map[Class]ClassLimit) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(limits)
	l.now = clock.Now
	return l, clock
}

func TestCheck_WithinBudget(t *testing.T) {
	l, _ := newTestLimiter(map[Class]ClassLimit{
		ClassSend: {Requests: 3, Window: time.Minute},
	})
	defer l.Close()

	for i := 0; i < 3; i++ {
		d := l.Check("u1", ClassSend)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
}

func TestCheck_Boundary_SixthDenied(t *testing.T) {
	l, clock := newTestLimiter(map[Class]ClassLimit{
		ClassSend: {Requests: 5, Window: 60 * time.Second},
	})
	defer l.Close()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Check("u1", ClassSend).Allowed)
	}

	d := l.Check("u1", ClassSend)
	require.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfterSeconds(), 0)
	assert.LessOrEqual(t, d.RetryAfter, 60*time.Second)

	// After the window resets the budget is fresh
	clock.Advance(61 * time.Second)
	assert.True(t, l.Check("u1", ClassSend).Allowed)
}

func TestCheck_DenialDoesNotConsumeBudget(t *testing.T) {
	l, clock := newTestLimiter(map[Class]ClassLimit{
		ClassSend: {Requests: 2, Window: time.Minute},
	})
	defer l.Close()

	l.Check("u1", ClassSend)
	l.Check("u1", ClassSend)

	// Hammer the denied path; the counter must not corrupt
	for i := 0; i < 10; i++ {
		assert.False(t, l.Check("u1", ClassSend).Allowed)
	}

	clock.Advance(time.Minute)
	assert.True(t, l.Check("u1", ClassSend).Allowed)
}

func TestCheck_IdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(map[Class]ClassLimit{
		ClassSend: {Requests: 1, Window: time.Minute},
	})
	defer l.Close()

	assert.True(t, l.Check("u1", ClassSend).Allowed)
	assert.False(t, l.Check("u1", ClassSend).Allowed)

	// u2 has its own window
	assert.True(t, l.Check("u2", ClassSend).Allowed)
}

func TestCheck_ClassesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(map[Class]ClassLimit{
		ClassRead: {Requests: 10, Window: time.Minute},
		ClassSend: {Requests: 1, Window: time.Minute},
	})
	defer l.Close()

	assert.True(t, l.Check("u1", ClassSend).Allowed)
	assert.False(t, l.Check("u1", ClassSend).Allowed)

	// Send exhaustion does not touch the read budget
	for i := 0; i < 10; i++ {
		assert.True(t, l.Check("u1", ClassRead).Allowed)
	}
	assert.False(t, l.Check("u1", ClassRead).Allowed)
}

func TestCheck_UnconfiguredClassIsUnlimited(t *testing.T) {
	l, _ := newTestLimiter(map[Class]ClassLimit{})
	defer l.Close()

	for i := 0; i < 1000; i++ {
		assert.True(t, l.Check("u1", ClassRead).Allowed)
	}
}

func TestRemaining(t *testing.T) {
	l, _ := newTestLimiter(map[Class]ClassLimit{
		ClassSend: {Requests: 5, Window: time.Minute},
	})
	defer l.Close()

	assert.Equal(t, 5, l.Remaining("u1", ClassSend))
	l.Check("u1", ClassSend)
	l.Check("u1", ClassSend)
	assert.Equal(t, 3, l.Remaining("u1", ClassSend))

	// Remaining does not consume budget
	assert.Equal(t, 3, l.Remaining("u1", ClassSend))
}

func TestCheck_NeverExceedsLimit_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(map[Class]ClassLimit{
		ClassSend: {Requests: 25, Window: time.Minute},
	})
	defer l.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("u1", ClassSend).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, allowed)
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(map[Class]ClassLimit{
		ClassSend: {Requests: 1, Window: time.Minute},
	})
	defer l.Close()

	assert.True(t, l.Check("u1", ClassSend).Allowed)
	assert.False(t, l.Check("u1", ClassSend).Allowed)

	l.Reset()
	assert.True(t, l.Check("u1", ClassSend).Allowed)
}

func TestRetryAfterSeconds_RoundsUp(t *testing.T) {
	d := Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}
	assert.Equal(t, 2, d.RetryAfterSeconds())

	d = Decision{Allowed: false, RetryAfter: 10 * time.Millisecond}
	assert.Equal(t, 1, d.RetryAfterSeconds())

	d = Decision{Allowed: true}
	assert.Equal(t, 0, d.RetryAfterSeconds())
}
