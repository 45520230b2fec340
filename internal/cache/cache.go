// ABOUTME: Short-TTL response cache with single-flight computation
// ABOUTME: Prefix invalidation keeps listings consistent after writes

package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry stores a cached value with its expiry and list element for O(1)
// eviction.
type entry struct {
	value     any
	expiresAt time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited response cache. Concurrent
// lookups of an unset key collapse into a single computation; all callers
// receive its result. A background goroutine periodically removes expired
// entries.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   *list.List // keys in insertion order (oldest at front)
	maxSize int
	gen     uint64 // bumped by Invalidate; flights that predate it are stale
	group   singleflight.Group
	done    chan struct{}
	closed  bool

	// now is replaceable for tests
	now func() time.Time
}

// New creates a cache holding at most maxSize entries.
func New(maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go c.cleanup()
	return c
}

// flightResult pairs a flight's value with the generation it was computed
// under, so joiners can tell whether an invalidation outdated it.
type flightResult struct {
	value any
	gen   uint64
}

// GetOrCompute returns the cached value for key if present and fresh.
// Otherwise compute runs exactly once per key, even under concurrent
// requests for the same key, and its result is cached with the given TTL.
// Compute errors are returned to every waiting caller and are not cached.
// A caller that starts after an Invalidate returns never receives a value
// computed before that invalidation, even if a matching flight was already
// running: the outdated flight is dropped and compute runs again.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (any, error)) (any, error) {
	for {
		if value, ok := c.get(key); ok {
			return value, nil
		}

		result, err, _ := c.group.Do(key, func() (any, error) {
			// A concurrent caller may have stored the value while we
			// waited for the flight slot.
			if value, ok := c.get(key); ok {
				return &flightResult{value: value, gen: c.generation()}, nil
			}

			gen := c.generation()
			value, err := compute(ctx)
			if err != nil {
				return nil, err
			}

			c.set(key, value, ttl, gen)
			return &flightResult{value: value, gen: gen}, nil
		})
		if err != nil {
			return nil, err
		}

		res := result.(*flightResult)
		if c.generation() == res.gen {
			return res.value, nil
		}

		// The flight predates an invalidation, so its value may be older
		// than the write that invalidated. Drop the flight and go again.
		c.group.Forget(key)
	}
}

// generation returns the current invalidation generation.
func (c *Cache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Get returns the cached value for key if present and fresh.
func (c *Cache) Get(key string) (any, bool) {
	return c.get(key)
}

// Invalidate removes all entries whose key starts with prefix and returns
// how many were dropped. Write paths call this before responding so an
// immediate re-read never observes stale data.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++

	removed := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(e.element)
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including any not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// get returns a fresh value for key. A served entry's age never exceeds its
// TTL: expired entries are treated as absent.
func (c *Cache) get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// set stores a computed value unless an invalidation raced the computation,
// in which case the value may predate the write that invalidated and must
// not be served.
func (c *Cache) set(key string, value any, ttl time.Duration, genBefore uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != genBefore {
		return
	}

	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.expiresAt = c.now().Add(ttl)
		c.order.MoveToBack(existing.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry{
		value:     value,
		expiresAt: c.now().Add(ttl),
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup periodically removes expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired drops all entries past their expiry.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}
