// ABOUTME: Package documentation for the identity package
// ABOUTME: Describes visitor identity resolution and the marker cookie format

// Package identity maps anonymous web visitors to stable identities.
//
// With cookie-based identity enabled, the marker is an HS256-signed JWT
// carried in a cookie. A valid marker resolves to its identity unchanged; an
// absent, malformed, expired, or forged marker is treated as absent and a
// new random identity is minted along with a replacement cookie. Resolution
// never fails.
//
// With cookie-based identity disabled, every request resolves to the single
// shared identity "default": one persona block, one agent pool, shared by
// all visitors.
package identity
