// Package metrics exports cache engine counters and gauges. Every figure is
// kept twice: as a Prometheus collector for the /metrics endpoint and as an
// atomic mirror for cheap in-process snapshots.
package metrics

import (
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks cache metrics for Prometheus-compatible export.
type Collector struct {
	reg *prometheus.Registry

	hits           prometheus.Counter
	misses         prometheus.Counter
	sets           prometheus.Counter
	deletes        prometheus.Counter
	evictions      *prometheus.CounterVec
	invalidations  *prometheus.CounterVec
	refreshSuccess prometheus.Counter
	refreshFailure prometheus.Counter

	usedBytes        prometheus.Gauge
	entries          prometheus.Gauge
	pressure         prometheus.Gauge
	consistencyScore prometheus.Gauge

	nHits           atomic.Int64
	nMisses         atomic.Int64
	nSets           atomic.Int64
	nDeletes        atomic.Int64
	nEvictions      atomic.Int64
	nInvalidations  atomic.Int64
	nRefreshSuccess atomic.Int64
	nRefreshFailure atomic.Int64
	gUsedBytes      atomic.Int64
	gEntries        atomic.Int64
	gPressure       atomic.Int64
	gScore          atomic.Uint64
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_sets_total",
			Help: "Total cache writes",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_deletes_total",
			Help: "Total explicit deletions",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total evictions by cause",
		}, []string{"cause"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Total invalidation events by reason",
		}, []string{"reason"}),
		refreshSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_refresh_success_total",
			Help: "Total successful background refreshes",
		}),
		refreshFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_refresh_failure_total",
			Help: "Total failed background refresh attempts",
		}),
		usedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_used_bytes",
			Help: "Estimated bytes held by live entries",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Live entry count",
		}),
		pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_memory_pressure",
			Help: "Memory pressure level (0=none .. 4=critical)",
		}),
		consistencyScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_consistency_score",
			Help: "Most recent consistency audit score in [0,1]",
		}),
	}
	reg.MustRegister(
		c.hits, c.misses, c.sets, c.deletes,
		c.evictions, c.invalidations,
		c.refreshSuccess, c.refreshFailure,
		c.usedBytes, c.entries, c.pressure, c.consistencyScore,
	)
	c.gScore.Store(math.Float64bits(1))
	c.consistencyScore.Set(1)
	return c
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// RecordHit records a cache hit.
func (c *Collector) RecordHit() {
	c.hits.Inc()
	c.nHits.Add(1)
}

// RecordMiss records a cache miss.
func (c *Collector) RecordMiss() {
	c.misses.Inc()
	c.nMisses.Add(1)
}

// RecordSet records a cache write.
func (c *Collector) RecordSet() {
	c.sets.Inc()
	c.nSets.Add(1)
}

// RecordDelete records an explicit deletion.
func (c *Collector) RecordDelete() {
	c.deletes.Inc()
	c.nDeletes.Add(1)
}

// RecordEviction records an eviction with its cause label.
func (c *Collector) RecordEviction(cause string) {
	c.evictions.WithLabelValues(cause).Inc()
	c.nEvictions.Add(1)
}

// RecordInvalidation records an invalidation event with its reason label.
func (c *Collector) RecordInvalidation(reason string) {
	c.invalidations.WithLabelValues(reason).Inc()
	c.nInvalidations.Add(1)
}

// RecordRefresh records one refresh outcome.
func (c *Collector) RecordRefresh(success bool) {
	if success {
		c.refreshSuccess.Inc()
		c.nRefreshSuccess.Add(1)
		return
	}
	c.refreshFailure.Inc()
	c.nRefreshFailure.Add(1)
}

// SetUsedBytes updates the live footprint gauge.
func (c *Collector) SetUsedBytes(n int64) {
	c.usedBytes.Set(float64(n))
	c.gUsedBytes.Store(n)
}

// SetEntries updates the live entry count gauge.
func (c *Collector) SetEntries(n int) {
	c.entries.Set(float64(n))
	c.gEntries.Store(int64(n))
}

// SetPressure updates the memory pressure gauge.
func (c *Collector) SetPressure(level int) {
	c.pressure.Set(float64(level))
	c.gPressure.Store(int64(level))
}

// SetConsistencyScore updates the audit score gauge.
func (c *Collector) SetConsistencyScore(score float64) {
	c.consistencyScore.Set(score)
	c.gScore.Store(math.Float64bits(score))
}

// Snapshot is a point-in-time copy of every metric.
type Snapshot struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
	Sets             int64   `json:"sets"`
	Deletes          int64   `json:"deletes"`
	Evictions        int64   `json:"evictions"`
	Invalidations    int64   `json:"invalidations"`
	RefreshSuccess   int64   `json:"refresh_success"`
	RefreshFailure   int64   `json:"refresh_failure"`
	UsedBytes        int64   `json:"used_bytes"`
	Entries          int64   `json:"entries"`
	Pressure         int64   `json:"pressure"`
	ConsistencyScore float64 `json:"consistency_score"`
}

// Get returns a point-in-time snapshot of all metrics.
func (c *Collector) Get() Snapshot {
	s := Snapshot{
		Hits:             c.nHits.Load(),
		Misses:           c.nMisses.Load(),
		Sets:             c.nSets.Load(),
		Deletes:          c.nDeletes.Load(),
		Evictions:        c.nEvictions.Load(),
		Invalidations:    c.nInvalidations.Load(),
		RefreshSuccess:   c.nRefreshSuccess.Load(),
		RefreshFailure:   c.nRefreshFailure.Load(),
		UsedBytes:        c.gUsedBytes.Load(),
		Entries:          c.gEntries.Load(),
		Pressure:         c.gPressure.Load(),
		ConsistencyScore: math.Float64frombits(c.gScore.Load()),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
