// Package keymutex provides per-key mutual exclusion for presence transitions.
//
// All session transitions for one user must run one at a time; transitions for
// different users run fully concurrently. The map is process-local and simply
// abandoned on restart - consistency after a crash is restored by the
// reconciliation scan, not by persisting lock state.
package keymutex

import "sync"

// KeyedMutex serializes callers per key. Entries are created on first use and
// removed again once the last holder or waiter for a key releases, so the map
// only holds keys with in-flight work.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty KeyedMutex
func New() *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*entry),
	}
}

// Lock acquires the mutex for key, blocking while another holder has it
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key and drops the entry when nobody is waiting
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		panic("keymutex: unlock of unlocked key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// WithLock runs fn while holding the mutex for key
func (k *KeyedMutex) WithLock(key string, fn func() error) error {
	k.Lock(key)
	defer k.Unlock(key)
	return fn()
}

// Pending returns the number of keys with in-flight work, for introspection
// in tests and health reporting.
func (k *KeyedMutex) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
