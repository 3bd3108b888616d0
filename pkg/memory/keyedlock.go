package memory

import (
	"hash/fnv"
	"sync"
)

const lockShards = 16

// KeyedLock serializes work per key while letting distinct keys proceed in
// parallel. It backs the per-scope mutual exclusion of reconciliation: at
// most one pass may be in flight per scope, so the candidate sets read at the
// start of a pass stay valid until its actions are applied. Entries are
// reference counted and removed when the last holder releases, so the lock
// table does not grow with the number of scopes ever seen.
type KeyedLock struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock returns an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	kl := &KeyedLock{}
	for i := range kl.shards {
		kl.shards[i].entries = make(map[string]*lockEntry)
	}
	return kl
}

func (kl *KeyedLock) shard(key string) *lockShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &kl.shards[h.Sum32()%lockShards]
}

// Lock blocks until the caller holds exclusive access for key.
func (kl *KeyedLock) Lock(key string) {
	shard := kl.shard(key)

	shard.mu.Lock()
	entry, ok := shard.entries[key]
	if !ok {
		entry = &lockEntry{}
		shard.entries[key] = entry
	}
	entry.refs++
	shard.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases exclusive access for key. It must pair with a prior Lock.
func (kl *KeyedLock) Unlock(key string) {
	shard := kl.shard(key)

	shard.mu.Lock()
	entry, ok := shard.entries[key]
	if !ok {
		shard.mu.Unlock()
		panic("memory: unlock of unheld key " + key)
	}
	entry.refs--
	if entry.refs == 0 {
		delete(shard.entries, key)
	}
	shard.mu.Unlock()

	entry.mu.Unlock()
}
