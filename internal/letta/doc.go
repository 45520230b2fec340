// ABOUTME: Package documentation for the letta package
// ABOUTME: Describes the upstream agent runtime client and its failure semantics

// Package letta is a typed HTTP client for a Letta-compatible agent runtime.
//
// The gateway consumes a small slice of the runtime API: block create,
// attach, detach, agent CRUD, message send/list, and archival memory reads.
// Upstream wire shapes beyond those calls are out of scope.
//
// # Failure Semantics
//
// Network failures, timeouts, and 5xx responses normalize to
// ErrUpstreamUnavailable; 404 responses to ErrAgentNotFound. A circuit
// breaker (sony/gobreaker) opens after repeated consecutive unavailability
// so callers fail fast while the runtime is down.
//
// Idempotent reads (list agents, get agent, list messages, archival memory)
// are retried at most once with a short backoff. Attach, detach, send, and
// create are never retried: a duplicated side effect is worse than a
// surfaced error.
package letta
