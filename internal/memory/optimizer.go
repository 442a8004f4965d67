// Package memory watches the aggregate cache footprint and evicts
// low-value entries when pressure crosses the high-water mark. The policy
// is hybrid LRU/LFU: recency, frequency, remaining life, and size all feed
// one value score.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wudi/cachekit/internal/config"
	"github.com/wudi/cachekit/internal/store"
)

// Pressure discretizes the used/total memory ratio.
type Pressure int

const (
	PressureNone Pressure = iota
	PressureLow
	PressureMedium
	PressureHigh
	PressureCritical
)

func (p Pressure) String() string {
	switch p {
	case PressureNone:
		return "none"
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Fixed ratio breakpoints for pressure levels.
const (
	lowBreakpoint      = 0.50
	mediumBreakpoint   = 0.65
	highBreakpoint     = 0.80
	criticalBreakpoint = 0.92
)

// PressureFor maps a used/total ratio to a pressure level.
func PressureFor(ratio float64) Pressure {
	switch {
	case ratio >= criticalBreakpoint:
		return PressureCritical
	case ratio >= highBreakpoint:
		return PressureHigh
	case ratio >= mediumBreakpoint:
		return PressureMedium
	case ratio >= lowBreakpoint:
		return PressureLow
	default:
		return PressureNone
	}
}

// GCStat records one eviction pass.
type GCStat struct {
	Timestamp      time.Time `json:"timestamp"`
	FreedBytes     int64     `json:"freed_bytes"`
	EntriesEvicted int       `json:"entries_evicted"`
	PressureBefore string    `json:"pressure_before"`
	PressureAfter  string    `json:"pressure_after"`
}

// Optimizer owns eviction policy. All removals go through the store's
// delete path so dependency edges and refresh tasks are cleaned up by the
// same hooks as any other removal.
type Optimizer struct {
	store *store.Store
	clock clockwork.Clock
	log   *zap.Logger

	threshold   atomic.Int64
	highWater   float64
	weights     config.ScoreWeights
	interval    time.Duration
	historySize int

	mu      sync.Mutex
	history []GCStat

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates an optimizer over the given store.
func New(st *store.Store, cfg config.MemoryConfig, clock clockwork.Clock, log *zap.Logger) *Optimizer {
	if log == nil {
		log = zap.NewNop()
	}
	highWater := cfg.HighWater
	if highWater <= 0 || highWater >= 1 {
		highWater = 0.8
	}
	weights := cfg.Weights
	if weights.Recency+weights.Frequency+weights.Life+weights.Size == 0 {
		weights = config.ScoreWeights{Recency: 0.4, Frequency: 0.3, Life: 0.2, Size: 0.1}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 128
	}

	o := &Optimizer{
		store:       st,
		clock:       clock,
		log:         log,
		highWater:   highWater,
		weights:     weights,
		interval:    interval,
		historySize: historySize,
		stop:        make(chan struct{}),
	}
	o.threshold.Store(cfg.ThresholdBytes)
	return o
}

// Threshold returns the configured memory ceiling in bytes.
func (o *Optimizer) Threshold() int64 {
	return o.threshold.Load()
}

// SetThreshold adjusts the ceiling at runtime (config hot reload).
func (o *Optimizer) SetThreshold(n int64) {
	if n > 0 {
		o.threshold.Store(n)
	}
}

// Ratio returns usedMemory / totalMemory.
func (o *Optimizer) Ratio() float64 {
	threshold := o.threshold.Load()
	if threshold <= 0 {
		return 0
	}
	return float64(o.store.UsedBytes()) / float64(threshold)
}

// Pressure returns the current pressure level.
func (o *Optimizer) Pressure() Pressure {
	return PressureFor(o.Ratio())
}

// OverCeiling reports whether a new entry of the given size would exceed
// the ceiling even after eviction headroom.
func (o *Optimizer) OverCeiling(size int64) bool {
	return o.store.UsedBytes()+size > o.threshold.Load()
}

type scored struct {
	ref   store.Entry
	score float64
}

// Optimize runs one eviction pass. Below high pressure it is a no-op; at or
// above, it purges expired entries first, then evicts lowest-scored entries
// until the ratio drops under the high-water mark.
func (o *Optimizer) Optimize() GCStat {
	before := o.Pressure()
	if before < PressureHigh {
		return GCStat{}
	}

	o.store.PurgeExpired()

	now := o.clock.Now()
	entries := o.store.GetAll()
	candidates := make([]scored, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, scored{ref: *e, score: o.safeScore(e, now)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score < candidates[j].score
	})

	threshold := o.threshold.Load()
	var freed int64
	evicted := 0
	for _, c := range candidates {
		if float64(o.store.UsedBytes())/float64(threshold) < o.highWater {
			break
		}
		if o.store.Evict(c.ref.Namespace, c.ref.Key) {
			freed += c.ref.SizeEstimate
			evicted++
		}
	}

	stat := GCStat{
		Timestamp:      now,
		FreedBytes:     freed,
		EntriesEvicted: evicted,
		PressureBefore: before.String(),
		PressureAfter:  o.Pressure().String(),
	}

	o.mu.Lock()
	o.history = append(o.history, stat)
	if len(o.history) > o.historySize {
		o.history = o.history[len(o.history)-o.historySize:]
	}
	o.mu.Unlock()

	o.log.Info("memory optimization pass",
		zap.String("pressure_before", stat.PressureBefore),
		zap.String("pressure_after", stat.PressureAfter),
		zap.Int("evicted", evicted),
		zap.Int64("freed_bytes", freed),
	)
	return stat
}

// safeScore isolates scoring faults: a panic scoring one entry must not
// abort the pass for the others.
func (o *Optimizer) safeScore(e *store.Entry, now time.Time) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Warn("entry scoring panicked, treating as lowest value",
				zap.String("namespace", e.Namespace),
				zap.String("key", e.Key),
				zap.Any("panic", r),
			)
			score = 0
		}
	}()
	return o.score(e, now)
}

// score computes the eviction value score; higher is more worth keeping.
// Entries admitted past the ceiling are always first out.
func (o *Optimizer) score(e *store.Entry, now time.Time) float64 {
	if e.EvictNow {
		return -1
	}

	age := now.Sub(e.LastAccessedAt).Seconds()
	if age < 0 {
		age = 0
	}
	recency := 1 / (1 + age)
	frequency := 1 - 1/(1+float64(e.AccessCount))
	life := e.RemainingLife(now)
	size := 1 / (1 + float64(e.SizeEstimate)/1024)

	w := o.weights
	return w.Recency*recency + w.Frequency*frequency + w.Life*life + w.Size*size
}

// Stats returns a copy of the eviction pass history, oldest first.
func (o *Optimizer) Stats() []GCStat {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]GCStat, len(o.history))
	copy(out, o.history)
	return out
}

// Run executes periodic optimization passes until Stop or cancellation.
func (o *Optimizer) Run(ctx context.Context) {
	ticker := o.clock.NewTicker(o.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				o.Optimize()
			case <-ctx.Done():
				return
			case <-o.stop:
				return
			}
		}
	}()
}

// Stop halts the periodic pass.
func (o *Optimizer) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}
