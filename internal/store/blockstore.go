// ABOUTME: Store interface and data types for persona-gateway persistence
// ABOUTME: Defines BlockRecord and the Store interface for identity-to-block mapping

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateRecord is returned when trying to create a block record for an
// identity that already has one
var ErrDuplicateRecord = errors.New("block record already exists")

// BlockRecord maps a visitor identity to its persona memory block on the
// upstream agent runtime. The local record is the source of truth for
// discovery: the upstream list-blocks capability is unreliable and is never
// consulted.
type BlockRecord struct {
	Identity      string
	RemoteBlockID string
	Label         string
	LastSyncedAt  time.Time
}

// Store defines the interface for block record persistence
type Store interface {
	// CreateBlockRecord persists a new record. Returns ErrDuplicateRecord if
	// the identity already has one.
	CreateBlockRecord(ctx context.Context, rec *BlockRecord) error

	// GetBlockRecord returns the record for an identity, or ErrNotFound.
	GetBlockRecord(ctx context.Context, identity string) (*BlockRecord, error)

	// UpdateBlockRecord updates an existing record. Returns ErrNotFound if
	// the identity has no record.
	UpdateBlockRecord(ctx context.Context, rec *BlockRecord) error

	// ListBlockRecords returns up to limit records, newest first.
	ListBlockRecords(ctx context.Context, limit int) ([]*BlockRecord, error)

	// DeleteBlockRecord removes an identity's record. Used only by explicit
	// identity teardown, never by the request path.
	DeleteBlockRecord(ctx context.Context, identity string) error

	// Close releases any resources held by the store
	Close() error
}
