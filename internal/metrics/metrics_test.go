package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_Snapshot(t *testing.T) {
	c := NewCollector()

	c.RecordHit()
	c.RecordHit()
	c.RecordHit()
	c.RecordMiss()
	c.RecordSet()
	c.RecordDelete()
	c.RecordEviction("evicted_memory")
	c.RecordInvalidation("tag")
	c.RecordRefresh(true)
	c.RecordRefresh(false)
	c.SetUsedBytes(2048)
	c.SetEntries(7)
	c.SetPressure(3)
	c.SetConsistencyScore(0.95)

	got := c.Get()
	if got.Hits != 3 || got.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 3/1", got.Hits, got.Misses)
	}
	if got.HitRate != 0.75 {
		t.Errorf("HitRate = %v, want 0.75", got.HitRate)
	}
	if got.Sets != 1 || got.Deletes != 1 || got.Evictions != 1 || got.Invalidations != 1 {
		t.Errorf("sets/deletes/evictions/invalidations = %d/%d/%d/%d, want 1 each",
			got.Sets, got.Deletes, got.Evictions, got.Invalidations)
	}
	if got.RefreshSuccess != 1 || got.RefreshFailure != 1 {
		t.Errorf("refresh success/failure = %d/%d, want 1/1", got.RefreshSuccess, got.RefreshFailure)
	}
	if got.UsedBytes != 2048 || got.Entries != 7 || got.Pressure != 3 {
		t.Errorf("gauges = %d/%d/%d, want 2048/7/3", got.UsedBytes, got.Entries, got.Pressure)
	}
	if got.ConsistencyScore != 0.95 {
		t.Errorf("ConsistencyScore = %v, want 0.95", got.ConsistencyScore)
	}
}

func TestCollector_DefaultsToPerfectScore(t *testing.T) {
	c := NewCollector()
	got := c.Get()
	if got.ConsistencyScore != 1 {
		t.Errorf("ConsistencyScore = %v before any audit, want 1", got.ConsistencyScore)
	}
	if got.HitRate != 0 {
		t.Errorf("HitRate = %v with no traffic, want 0", got.HitRate)
	}
}

func TestCollector_PrometheusExposition(t *testing.T) {
	c := NewCollector()
	c.RecordHit()
	c.RecordEviction("evicted_lru")
	c.SetUsedBytes(512)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	out := string(body)

	for _, want := range []string{
		"cache_hits_total 1",
		`cache_evictions_total{cause="evicted_lru"} 1`,
		"cache_used_bytes 512",
		"cache_consistency_score 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q\n%s", want, out)
		}
	}
}
