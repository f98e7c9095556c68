// Package shard provides hash sharding and per-key locking for record stores.
package shard

import (
	"hash/fnv"
	"sync"
)

// Index maps key onto one of numShards shards.
// With numShards<=1, every key goes to shard 0.
func Index(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(numShards))
}

// Locks is a table of per-key mutexes.
//
// Each key gets its own mutex for as long as at least one caller holds or waits
// for it, so two different keys never block each other. The table is split into
// shards to keep the bookkeeping critical section short under load.
type Locks struct {
	shards []lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates a lock table with numShards shards (minimum 1).
func NewLocks(numShards int) *Locks {
	if numShards < 1 {
		numShards = 1
	}
	l := &Locks{shards: make([]lockShard, numShards)}
	for i := range l.shards {
		l.shards[i].locks = make(map[string]*keyLock)
	}
	return l
}

// Lock blocks until the lock for key is held and returns the function that releases it.
func (l *Locks) Lock(key string) (unlock func()) {
	s := &l.shards[Index(key, len(l.shards))]

	s.mu.Lock()
	kl, ok := s.locks[key]
	if !ok {
		kl = &keyLock{}
		s.locks[key] = kl
	}
	kl.refs++
	s.mu.Unlock()

	kl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.mu.Unlock()

			s.mu.Lock()
			kl.refs--
			if kl.refs == 0 {
				delete(s.locks, key)
			}
			s.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently locked or awaited.
func (l *Locks) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
