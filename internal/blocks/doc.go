// ABOUTME: Package documentation for the blocks package
// ABOUTME: Describes the persona block registry and attach/detach lifecycle

// Package blocks manages per-identity persona memory blocks on the
// upstream agent runtime.
//
// # Registry
//
// Each visitor identity owns one persona block. The Registry keeps the
// identity-to-block mapping in the local store and creates blocks lazily:
// remote create first, local record second, so a persisted block id always
// refers to an existing remote object. A per-identity creation lock
// guarantees exactly one remote create per identity under concurrency.
// Discovery is always by local record; the upstream list-blocks capability
// is unreliable and never used.
//
// # Lifecycle
//
// The Coordinator wraps every message exchange in attach, send, detach. A
// per-identity lock totally orders the lifecycle for one identity, so at
// most one attachment lease is live per identity at any instant.
// Detach runs on every exit path: fn success, fn error, inbound request
// cancellation (detach uses a fresh context), and even a panic inside fn.
// A failed detach is logged, surfaced as a non-fatal warning alongside the
// primary result, and queued for the reconciliation sweep; it never leaves
// the identity's lock held.
package blocks
