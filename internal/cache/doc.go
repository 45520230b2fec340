// ABOUTME: Package documentation for the cache package
// ABOUTME: Describes TTL caching, single-flight computes, and prefix invalidation

// Package cache provides a short-TTL response cache for idempotent upstream
// reads, primarily per-identity agent listings.
//
// Concurrent GetOrCompute calls for the same unset key collapse into a
// single compute via golang.org/x/sync/singleflight; every waiter receives
// the one result. Compute errors are never cached.
//
// Keys are namespaced by identity (for example "agents:u1") so a write that
// could change an identity's listings invalidates exactly that identity's
// entries with Invalidate("agents:u1"). Callers invalidate before
// responding to the write, so a client that immediately re-reads never
// observes stale data. An invalidation that races an in-flight compute wins:
// the stale result is discarded instead of cached.
package cache
