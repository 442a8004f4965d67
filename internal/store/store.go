// Package store holds the authoritative (namespace, key) → entry map. It
// owns entry lifecycle, size accounting, and LRU bookkeeping; everything
// else in the engine observes it through snapshots and removal hooks.
package store

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	simplelru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"

	"github.com/wudi/cachekit/internal/errors"
)

// compositeSep joins namespace and key into the shard-local map key. It is
// rejected in both parts by validation, so composites are collision-free.
const compositeSep = "\x00"

// Store is a sharded in-memory entry map. Shard selection hashes the
// composite identity with xxhash; each shard is guarded by its own mutex so
// a get never observes a partially written entry.
type Store struct {
	shards []*shard
	mask   uint64
	clock  clockwork.Clock

	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	deletes     atomic.Int64
	expirations atomic.Int64
	lruEvicts   atomic.Int64
	usedBytes   atomic.Int64

	hookMu sync.RWMutex
	hooks  []RemovalHook
}

type shard struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *Entry]

	// capEvicted collects entries displaced by the LRU cap during Add;
	// drained and reported after the shard lock is released.
	capEvicted []*Entry
	// removing suppresses the eviction callback during explicit removals.
	removing bool
}

type removal struct {
	entry *Entry
	cause RemovalCause
}

// Options configures a Store.
type Options struct {
	// Shards is rounded up to a power of two; minimum 1.
	Shards int
	// MaxEntries caps the total entry count across shards; 0 = unbounded.
	MaxEntries int
}

// New creates an empty store.
func New(opts Options, clock clockwork.Clock) *Store {
	n := nextPowerOfTwo(opts.Shards)
	perShard := 1 << 30
	if opts.MaxEntries > 0 {
		perShard = opts.MaxEntries / n
		if perShard < 1 {
			perShard = 1
		}
	}

	s := &Store{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
		clock:  clock,
	}
	for i := range s.shards {
		sh := &shard{}
		sh.lru, _ = simplelru.NewLRU[string, *Entry](perShard, func(_ string, e *Entry) {
			if sh.removing {
				return
			}
			sh.capEvicted = append(sh.capEvicted, e)
		})
		s.shards[i] = sh
	}
	return s
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// OnRemoval registers a hook observing every entry removal. Register all
// hooks before the store is shared.
func (s *Store) OnRemoval(hook RemovalHook) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, hook)
	s.hookMu.Unlock()
}

func (s *Store) notify(removals []removal) {
	if len(removals) == 0 {
		return
	}
	s.hookMu.RLock()
	hooks := s.hooks
	s.hookMu.RUnlock()

	for _, r := range removals {
		s.usedBytes.Add(-r.entry.SizeEstimate)
		for _, hook := range hooks {
			hook(r.entry, r.cause)
		}
	}
}

// ValidateIdentity checks a (namespace, key) pair.
func ValidateIdentity(namespace, key string) error {
	if namespace == "" || strings.Contains(namespace, compositeSep) {
		return errors.ErrInvalidNamespace.WithDetail("namespace %q", namespace)
	}
	if key == "" || strings.Contains(key, compositeSep) {
		return errors.ErrInvalidKey.WithDetail("key %q", key)
	}
	return nil
}

func composite(namespace, key string) string {
	return namespace + compositeSep + key
}

func (s *Store) shardFor(ck string) *shard {
	return s.shards[xxhash.Sum64String(ck)&s.mask]
}

// Set inserts or replaces the entry for its (namespace, key). A replaced
// entry surfaces through removal hooks with CauseReplaced so its tag edges
// and refresh task can be unregistered.
func (s *Store) Set(e *Entry) error {
	if err := ValidateIdentity(e.Namespace, e.Key); err != nil {
		return err
	}
	if e.TTL < 0 {
		return errors.ErrInvalidTTL
	}

	ck := composite(e.Namespace, e.Key)
	sh := s.shardFor(ck)

	var removals []removal
	sh.mu.Lock()
	if prev, ok := sh.lru.Peek(ck); ok {
		sh.removing = true
		sh.lru.Remove(ck)
		sh.removing = false
		removals = append(removals, removal{prev, CauseReplaced})
	}
	sh.lru.Add(ck, e)
	for _, evicted := range sh.capEvicted {
		removals = append(removals, removal{evicted, CauseEvictedLRU})
		s.lruEvicts.Add(1)
	}
	sh.capEvicted = sh.capEvicted[:0]
	sh.mu.Unlock()

	s.sets.Add(1)
	s.usedBytes.Add(e.SizeEstimate)
	s.notify(removals)
	return nil
}

// Get returns the live entry, updating recency and frequency statistics.
// Expired entries are evicted on sight and reported as misses. The returned
// entry must be treated as read-only.
func (s *Store) Get(namespace, key string) (*Entry, bool) {
	ck := composite(namespace, key)
	sh := s.shardFor(ck)
	now := s.clock.Now()

	sh.mu.Lock()
	e, ok := sh.lru.Get(ck)
	if !ok {
		sh.mu.Unlock()
		s.misses.Add(1)
		return nil, false
	}
	if e.Expired(now) {
		sh.removing = true
		sh.lru.Remove(ck)
		sh.removing = false
		sh.mu.Unlock()
		s.misses.Add(1)
		s.expirations.Add(1)
		s.notify([]removal{{e, CauseExpired}})
		return nil, false
	}
	e.LastAccessedAt = now
	e.AccessCount++
	sh.mu.Unlock()

	s.hits.Add(1)
	return e, true
}

// Peek returns the entry without touching recency, frequency, or expiry.
// Background passes use it to observe without disturbing access stats.
func (s *Store) Peek(namespace, key string) (*Entry, bool) {
	ck := composite(namespace, key)
	sh := s.shardFor(ck)

	sh.mu.Lock()
	e, ok := sh.lru.Peek(ck)
	sh.mu.Unlock()
	return e, ok
}

// Delete removes the entry. Idempotent: deleting an absent key is a no-op.
func (s *Store) Delete(namespace, key string) bool {
	return s.remove(namespace, key, CauseDeleted)
}

// Evict removes the entry on behalf of the memory optimizer.
func (s *Store) Evict(namespace, key string) bool {
	return s.remove(namespace, key, CauseEvictedMemory)
}

func (s *Store) remove(namespace, key string, cause RemovalCause) bool {
	ck := composite(namespace, key)
	sh := s.shardFor(ck)

	sh.mu.Lock()
	e, ok := sh.lru.Peek(ck)
	if !ok {
		sh.mu.Unlock()
		return false
	}
	sh.removing = true
	sh.lru.Remove(ck)
	sh.removing = false
	sh.mu.Unlock()

	if cause == CauseDeleted {
		s.deletes.Add(1)
	}
	s.notify([]removal{{e, cause}})
	return true
}

// MarkStale flags the entry as stale without removing it.
func (s *Store) MarkStale(namespace, key string) bool {
	ck := composite(namespace, key)
	sh := s.shardFor(ck)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.lru.Peek(ck)
	if !ok {
		return false
	}
	e.Stale = true
	return true
}

// MarkEvictNow flags the entry as first-out for the next eviction pass.
func (s *Store) MarkEvictNow(namespace, key string) bool {
	ck := composite(namespace, key)
	sh := s.shardFor(ck)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.lru.Peek(ck)
	if !ok {
		return false
	}
	e.EvictNow = true
	return true
}

// SetRefreshTask records the weak back-reference to a refresher task.
func (s *Store) SetRefreshTask(namespace, key, taskID string) bool {
	ck := composite(namespace, key)
	sh := s.shardFor(ck)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.lru.Peek(ck)
	if !ok {
		return false
	}
	e.RefreshTaskID = taskID
	return true
}

// GetAll returns a point-in-time snapshot of every entry. Entries are
// copies; mutating them does not affect the store.
func (s *Store) GetAll() []*Entry {
	var out []*Entry
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.lru.Values() {
			out = append(out, e.clone())
		}
		sh.mu.Unlock()
	}
	return out
}

// PurgeExpired removes every expired entry and returns how many went.
func (s *Store) PurgeExpired() int {
	now := s.clock.Now()
	var removals []removal

	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, ck := range sh.lru.Keys() {
			e, _ := sh.lru.Peek(ck)
			if e != nil && e.Expired(now) {
				sh.removing = true
				sh.lru.Remove(ck)
				sh.removing = false
				removals = append(removals, removal{e, CauseExpired})
			}
		}
		sh.mu.Unlock()
	}

	s.expirations.Add(int64(len(removals)))
	s.notify(removals)
	return len(removals)
}

// Len returns the current entry count.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += sh.lru.Len()
		sh.mu.Unlock()
	}
	return n
}

// UsedBytes returns the aggregate size estimate of all live entries.
func (s *Store) UsedBytes() int64 {
	return s.usedBytes.Load()
}

// Stats is a point-in-time snapshot of store counters.
type Stats struct {
	Entries     int   `json:"entries"`
	UsedBytes   int64 `json:"used_bytes"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Deletes     int64 `json:"deletes"`
	Expirations int64 `json:"expirations"`
	LRUEvicts   int64 `json:"lru_evicts"`
}

// Snapshot returns current counters.
func (s *Store) Snapshot() Stats {
	return Stats{
		Entries:     s.Len(),
		UsedBytes:   s.usedBytes.Load(),
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Sets:        s.sets.Load(),
		Deletes:     s.deletes.Load(),
		Expirations: s.expirations.Load(),
		LRUEvicts:   s.lruEvicts.Load(),
	}
}
