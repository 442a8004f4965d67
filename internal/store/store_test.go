package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	cacheerrors "github.com/wudi/cachekit/internal/errors"
)

func newTestStore(t *testing.T, opts Options) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return New(opts, clock), clock
}

func testEntry(clock clockwork.Clock, ns, key string, ttl time.Duration) *Entry {
	now := clock.Now()
	return &Entry{
		Key:            key,
		Namespace:      ns,
		Value:          []byte("payload-" + key),
		DataType:       "dynamic",
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            ttl,
		ExpiresAt:      now.Add(ttl),
		SizeEstimate:   EstimateSize([]byte("payload-" + key)),
	}
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 4})

	e := testEntry(clock, "products", "sku-1", time.Minute)
	if err := s.Set(e); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := s.Get("products", "sku-1")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Value.([]byte)) != "payload-sku-1" {
		t.Errorf("wrong value: %v", got.Value)
	}
	if got.AccessCount != 1 {
		t.Errorf("expected access count 1, got %d", got.AccessCount)
	}
}

func TestStore_GetMiss(t *testing.T) {
	s, _ := newTestStore(t, Options{Shards: 1})

	if _, ok := s.Get("ns", "absent"); ok {
		t.Error("expected miss")
	}
	if stats := s.Snapshot(); stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestStore_ExpiryEvictsOnGet(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 2})
	s.Set(testEntry(clock, "ns", "k", time.Millisecond))

	clock.Advance(10 * time.Millisecond)

	if _, ok := s.Get("ns", "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if s.Len() != 0 {
		t.Error("expired entry should have been evicted")
	}
	if stats := s.Snapshot(); stats.Expirations != 1 {
		t.Errorf("expected 1 expiration, got %d", stats.Expirations)
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 2})
	s.Set(testEntry(clock, "ns", "k", time.Minute))

	if !s.Delete("ns", "k") {
		t.Error("first delete should report removal")
	}
	if s.Delete("ns", "k") {
		t.Error("second delete should be a no-op")
	}
	if s.Len() != 0 || s.UsedBytes() != 0 {
		t.Errorf("state not clean after delete: len=%d bytes=%d", s.Len(), s.UsedBytes())
	}
}

func TestStore_ValidateIdentity(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 1})

	tests := []struct {
		name    string
		ns, key string
		want    error
	}{
		{"empty namespace", "", "k", cacheerrors.ErrInvalidNamespace},
		{"empty key", "ns", "", cacheerrors.ErrInvalidKey},
		{"nul in namespace", "n\x00s", "k", cacheerrors.ErrInvalidNamespace},
		{"nul in key", "ns", "k\x00ey", cacheerrors.ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEntry(clock, "valid", "valid", time.Minute)
			e.Namespace, e.Key = tt.ns, tt.key
			if err := s.Set(e); !errors.Is(err, tt.want) {
				t.Errorf("Set = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStore_NegativeTTLRejected(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 1})
	e := testEntry(clock, "ns", "k", time.Minute)
	e.TTL = -time.Second

	if err := s.Set(e); !errors.Is(err, cacheerrors.ErrInvalidTTL) {
		t.Errorf("expected ErrInvalidTTL, got %v", err)
	}
}

func TestStore_ReplaceFiresHook(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 1})

	var mu sync.Mutex
	var causes []RemovalCause
	s.OnRemoval(func(e *Entry, cause RemovalCause) {
		mu.Lock()
		causes = append(causes, cause)
		mu.Unlock()
	})

	s.Set(testEntry(clock, "ns", "k", time.Minute))
	s.Set(testEntry(clock, "ns", "k", time.Hour))

	mu.Lock()
	defer mu.Unlock()
	if len(causes) != 1 || causes[0] != CauseReplaced {
		t.Errorf("expected a single CauseReplaced, got %v", causes)
	}
	if s.Len() != 1 {
		t.Errorf("expected one live entry, got %d", s.Len())
	}
}

func TestStore_LRUCapEviction(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 1, MaxEntries: 3})

	var evicted []string
	s.OnRemoval(func(e *Entry, cause RemovalCause) {
		if cause == CauseEvictedLRU {
			evicted = append(evicted, e.Key)
		}
	})

	for i := 0; i < 5; i++ {
		s.Set(testEntry(clock, "ns", fmt.Sprintf("k%d", i), time.Minute))
	}

	if s.Len() != 3 {
		t.Errorf("expected 3 entries after cap eviction, got %d", s.Len())
	}
	if len(evicted) != 2 || evicted[0] != "k0" || evicted[1] != "k1" {
		t.Errorf("expected oldest-first LRU eviction, got %v", evicted)
	}
}

func TestStore_UsedBytesAccounting(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 2})

	e1 := testEntry(clock, "ns", "a", time.Minute)
	e2 := testEntry(clock, "ns", "b", time.Minute)
	s.Set(e1)
	s.Set(e2)

	want := e1.SizeEstimate + e2.SizeEstimate
	if got := s.UsedBytes(); got != want {
		t.Errorf("UsedBytes = %d, want %d", got, want)
	}

	s.Delete("ns", "a")
	if got := s.UsedBytes(); got != e2.SizeEstimate {
		t.Errorf("UsedBytes after delete = %d, want %d", got, e2.SizeEstimate)
	}
}

func TestStore_GetAllIsSnapshot(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 4})
	s.Set(testEntry(clock, "ns", "k", time.Minute))

	all := s.GetAll()
	if len(all) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(all))
	}
	all[0].Stale = true
	all[0].Tags = append(all[0].Tags, "mutated")

	live, _ := s.Peek("ns", "k")
	if live.Stale || len(live.Tags) != 0 {
		t.Error("mutating the snapshot must not affect the live entry")
	}
}

func TestStore_MarkStale(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 1})
	s.Set(testEntry(clock, "ns", "k", time.Minute))

	if !s.MarkStale("ns", "k") {
		t.Fatal("MarkStale on live entry should succeed")
	}
	e, ok := s.Get("ns", "k")
	if !ok || !e.Stale {
		t.Error("stale entry should still be servable and flagged")
	}

	if s.MarkStale("ns", "absent") {
		t.Error("MarkStale on absent entry should report false")
	}
}

func TestStore_PurgeExpired(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 4})
	s.Set(testEntry(clock, "ns", "short", time.Second))
	s.Set(testEntry(clock, "ns", "long", time.Hour))

	clock.Advance(2 * time.Second)

	if n := s.PurgeExpired(); n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	if _, ok := s.Peek("ns", "long"); !ok {
		t.Error("unexpired entry should survive the purge")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s, clock := newTestStore(t, Options{Shards: 8})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%20)
				switch i % 3 {
				case 0:
					s.Set(testEntry(clock, "ns", key, time.Minute))
				case 1:
					s.Get("ns", key)
				default:
					s.Delete("ns", key)
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestEntry_RemainingLife(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := testEntry(clock, "ns", "k", 100*time.Second)

	if got := e.RemainingLife(clock.Now()); got != 1 {
		t.Errorf("fresh entry should have full life, got %v", got)
	}

	mid := clock.Now().Add(50 * time.Second)
	if got := e.RemainingLife(mid); got < 0.49 || got > 0.51 {
		t.Errorf("expected ~0.5 remaining, got %v", got)
	}

	if got := e.RemainingLife(clock.Now().Add(200 * time.Second)); got != 0 {
		t.Errorf("expired entry should have zero life, got %v", got)
	}
}

func TestEstimateSize(t *testing.T) {
	if EstimateSize([]byte("abcd")) != entryOverhead+4 {
		t.Error("byte slice size wrong")
	}
	if EstimateSize("abcdef") != entryOverhead+6 {
		t.Error("string size wrong")
	}
	if EstimateSize(int64(1)) != entryOverhead+8 {
		t.Error("int64 size wrong")
	}
	type payload struct {
		A string `json:"a"`
	}
	if EstimateSize(payload{A: "x"}) <= entryOverhead {
		t.Error("struct size should exceed overhead")
	}
}

func BenchmarkStore_Get(b *testing.B) {
	clock := clockwork.NewRealClock()
	s := New(Options{Shards: 16}, clock)
	for i := 0; i < 1000; i++ {
		now := clock.Now()
		s.Set(&Entry{
			Key: fmt.Sprintf("k%d", i), Namespace: "bench", Value: []byte("v"),
			CreatedAt: now, LastAccessedAt: now,
			TTL: time.Hour, ExpiresAt: now.Add(time.Hour), SizeEstimate: 100,
		})
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Get("bench", fmt.Sprintf("k%d", i%1000))
	}
}
