// ABOUTME: Package documentation for the gateway package
// ABOUTME: Describes the identity-scoped service layer and its HTTP API

// Package gateway implements the identity-scoped agent operations and the
// HTTP API that exposes them.
//
// Every request resolves exactly one visitor identity, then flows through
// the Service: rate limiting per identity and operation class, agent
// ownership checks via "user:<identity>" tags, the attach-send-detach
// block lifecycle for message sends, and a short-TTL per-identity cache
// for agent listings with invalidate-before-respond on every write.
//
// Error mapping at the HTTP edge: rate limit denials become 429 with a
// retry_after hint, unknown or foreign agents become 404, and an
// unreachable runtime becomes 503. A failed trailing detach never fails
// the exchange; it surfaces as the X-Detach-Warning response header.
package gateway
