package store

import (
	"time"
)

// Entry is one cached value plus its metadata. Identity is the
// (namespace, key) pair; keys are unique within a namespace.
type Entry struct {
	Key       string
	Namespace string

	// Value is owned by the entry and treated as opaque.
	Value any

	DataType string

	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    uint64

	TTL       time.Duration
	ExpiresAt time.Time

	// Tags carries the dependency tag names registered for this entry;
	// strength lives in the dependency graph.
	Tags []string

	SizeEstimate int64

	// RefreshTaskID is a weak back-reference to a refresher task.
	RefreshTaskID string

	// Stale is set by weak-tag invalidation: still servable, flagged for
	// the next refresh cycle.
	Stale bool

	// EvictNow marks entries admitted past the memory ceiling; the
	// optimizer evicts them first.
	EvictNow bool
}

// Expired reports whether the entry is past its deadline at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// RemainingLife returns the fraction of TTL left at now, in [0,1].
func (e *Entry) RemainingLife(now time.Time) float64 {
	if e.TTL <= 0 {
		return 0
	}
	left := e.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	frac := float64(left) / float64(e.TTL)
	if frac > 1 {
		return 1
	}
	return frac
}

// clone returns a shallow copy for snapshot reads. The value itself is
// shared; callers treat it as read-only.
func (e *Entry) clone() *Entry {
	cp := *e
	cp.Tags = append([]string(nil), e.Tags...)
	return &cp
}

// RemovalCause says why an entry left the store.
type RemovalCause int

const (
	CauseReplaced RemovalCause = iota
	CauseDeleted
	CauseExpired
	CauseEvictedLRU
	CauseEvictedMemory
)

func (c RemovalCause) String() string {
	switch c {
	case CauseReplaced:
		return "replaced"
	case CauseDeleted:
		return "deleted"
	case CauseExpired:
		return "expired"
	case CauseEvictedLRU:
		return "evicted_lru"
	case CauseEvictedMemory:
		return "evicted_memory"
	default:
		return "unknown"
	}
}

// RemovalHook observes entries leaving the store. Hooks run outside shard
// locks and must not call back into the store for the same entry.
type RemovalHook func(e *Entry, cause RemovalCause)
