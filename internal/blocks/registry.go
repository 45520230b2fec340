// ABOUTME: Identity-to-persona-block registry backed by the local store
// ABOUTME: Creates remote blocks exactly once per identity under a per-identity lock

package blocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/persona-gateway/internal/letta"
	"github.com/2389/persona-gateway/internal/store"
)

// PersonaLabel is the label of the per-identity persona block on the
// runtime.
const PersonaLabel = "human"

// defaultPersonaValue seeds a freshly created persona block.
const defaultPersonaValue = "The human has not shared anything about themselves yet."

// Upstream is the slice of the runtime client the block layer needs.
type Upstream interface {
	CreateBlock(ctx context.Context, label, value string) (*letta.Block, error)
	UpdateBlock(ctx context.Context, blockID, value string) error
	AttachBlock(ctx context.Context, agentID, blockID string) error
	DetachBlock(ctx context.Context, agentID, blockID string) error
}

// Registry owns the identity-to-block mapping. The local store is the only
// trusted source of block discovery; the upstream list-blocks capability is
// unreliable and never consulted. Other components borrow records read-only.
type Registry struct {
	store    store.Store
	upstream Upstream
	logger   *slog.Logger

	// createLocks serializes the create path per identity. Lookups of
	// existing records never contend.
	createLocks *keyedMutex
}

// NewRegistry creates a registry over the given store and runtime client.
func NewRegistry(st store.Store, upstream Upstream) *Registry {
	return &Registry{
		store:       st,
		upstream:    upstream,
		logger:      slog.Default().With("component", "blocks"),
		createLocks: newKeyedMutex(),
	}
}

// GetOrCreate returns the identity's block record, creating the remote
// block and persisting the record on first use. Concurrent callers for one
// identity result in exactly one remote create; all receive the same
// record. Nothing is persisted if the remote create fails: a cached block
// id must always refer to an existing remote object.
func (r *Registry) GetOrCreate(ctx context.Context, identity string) (*store.BlockRecord, error) {
	// Fast path: record already exists
	rec, err := r.store.GetBlockRecord(ctx, identity)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up block record: %w", err)
	}

	unlock := r.createLocks.Lock(identity)
	defer unlock()

	// A concurrent caller may have created the record while we waited
	rec, err = r.store.GetBlockRecord(ctx, identity)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up block record: %w", err)
	}

	// Remote first, record second
	block, err := r.upstream.CreateBlock(ctx, PersonaLabel, defaultPersonaValue)
	if err != nil {
		return nil, fmt.Errorf("creating persona block for %s: %w", identity, err)
	}

	rec = &store.BlockRecord{
		Identity:      identity,
		RemoteBlockID: block.ID,
		Label:         PersonaLabel,
		LastSyncedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateBlockRecord(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateRecord) {
			// Another process won the race. The block we just created is
			// now an orphan on the runtime; the record that landed is the
			// one to serve.
			r.logger.Warn("block record created concurrently, orphaning fresh block",
				"identity", identity, "orphan_block_id", block.ID)
			return r.store.GetBlockRecord(ctx, identity)
		}
		return nil, fmt.Errorf("persisting block record: %w", err)
	}

	r.logger.Info("persona block created", "identity", identity, "block_id", block.ID)
	return rec, nil
}

// Get returns the identity's block record or store.ErrNotFound. Local
// lookup only.
func (r *Registry) Get(ctx context.Context, identity string) (*store.BlockRecord, error) {
	return r.store.GetBlockRecord(ctx, identity)
}

// Update replaces the identity's persona block content on the runtime and
// bumps the record's sync time.
func (r *Registry) Update(ctx context.Context, identity, content string) error {
	rec, err := r.store.GetBlockRecord(ctx, identity)
	if err != nil {
		return fmt.Errorf("looking up block record: %w", err)
	}

	if err := r.upstream.UpdateBlock(ctx, rec.RemoteBlockID, content); err != nil {
		return fmt.Errorf("updating persona block: %w", err)
	}

	rec.LastSyncedAt = time.Now().UTC()
	if err := r.store.UpdateBlockRecord(ctx, rec); err != nil {
		return fmt.Errorf("updating block record: %w", err)
	}
	return nil
}

// Teardown removes the identity's record. Explicit teardown only; the
// request path never deletes records.
func (r *Registry) Teardown(ctx context.Context, identity string) error {
	return r.store.DeleteBlockRecord(ctx, identity)
}
