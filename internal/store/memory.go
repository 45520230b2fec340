// ABOUTME: In-memory implementation of the Store interface for tests
// ABOUTME: Mirrors SQLiteStore semantics including duplicate and not-found errors

package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*BlockRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*BlockRecord),
	}
}

func (m *MemoryStore) CreateBlockRecord(ctx context.Context, rec *BlockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.Identity]; exists {
		return ErrDuplicateRecord
	}
	cp := *rec
	m.records[rec.Identity] = &cp
	return nil
}

func (m *MemoryStore) GetBlockRecord(ctx context.Context, identity string) (*BlockRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[identity]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) UpdateBlockRecord(ctx context.Context, rec *BlockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.Identity]; !ok {
		return ErrNotFound
	}
	cp := *rec
	m.records[rec.Identity] = &cp
	return nil
}

func (m *MemoryStore) ListBlockRecords(ctx context.Context, limit int) ([]*BlockRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	records := make([]*BlockRecord, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		records = append(records, &cp)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastSyncedAt.After(records[j].LastSyncedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *MemoryStore) DeleteBlockRecord(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[identity]; !ok {
		return ErrNotFound
	}
	delete(m.records, identity)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
