// ABOUTME: Reference-counted per-key mutexes for identity-scoped serialization
// ABOUTME: Entries are dropped once the last holder releases, bounding memory

package blocks

import "sync"

// lockEntry is one key's mutex with a holder/waiter count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex provides an independent mutex per key. Locking one identity
// never contends with another; entries are removed when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
