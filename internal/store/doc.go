// ABOUTME: Package documentation for the store package
// ABOUTME: Describes block record persistence and the Store interface

// Package store provides persistent storage for the gateway using SQLite.
//
// The only durable state the core needs is the mapping from visitor identity
// to the persona memory block on the upstream agent runtime:
//
//   - BlockRecord: {identity, remote block id, label, last synced at}
//
// The local table is authoritative for block discovery. The upstream
// list-blocks capability is documented unreliable and is never used to find
// an identity's block; a missing local record means the block does not exist
// yet from the gateway's point of view.
//
// SQLiteStore implements the Store interface with an auto-created schema and
// WAL mode. MemoryStore is a drop-in in-memory implementation for tests with
// identical error semantics.
package store
