// ABOUTME: Package documentation for the ratelimit package
// ABOUTME: Describes fixed-window counting and the non-blocking check contract

// Package ratelimit provides per-identity, per-operation-class rate
// limiting using fixed-window counting.
//
// Each (identity, class) pair gets a lazily created window. A check inside
// the window consumes budget if any remains; once the budget is spent,
// further checks are denied with the time until the window resets. Checks
// never block: the HTTP layer turns a denial into a 429 with a retry hint.
//
// The count within a window never exceeds the configured limit, which is
// the property the token-bucket limiters in the ecosystem (golang.org/x/time/rate)
// do not give: a bucket refills continuously and admits more than N requests
// across a window boundary.
package ratelimit
