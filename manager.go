// Package cachekit is an in-process adaptive caching engine: a namespaced
// key/value store with workload-adaptive TTLs, dependency-aware cascading
// invalidation, background refresh with retry and backoff, memory-pressure
// eviction, and periodic consistency auditing.
//
// The Manager composes the engine's components behind one API surface.
// Construct it once at process start and share the instance; there is no
// package-level state.
package cachekit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wudi/cachekit/internal/audit"
	"github.com/wudi/cachekit/internal/broadcast"
	"github.com/wudi/cachekit/internal/bus"
	"github.com/wudi/cachekit/internal/config"
	"github.com/wudi/cachekit/internal/errors"
	"github.com/wudi/cachekit/internal/graph"
	"github.com/wudi/cachekit/internal/memory"
	"github.com/wudi/cachekit/internal/metrics"
	"github.com/wudi/cachekit/internal/refresh"
	"github.com/wudi/cachekit/internal/store"
	"github.com/wudi/cachekit/internal/ttl"
)

// Manager is the engine facade. All methods are safe for concurrent use.
type Manager struct {
	cfg   *config.Config
	clock clockwork.Clock
	log   *zap.Logger

	store       *store.Store
	ttl         *ttl.Engine
	graph       *graph.Graph
	bus         *bus.Bus
	refresher   *refresh.Refresher
	optimizer   *memory.Optimizer
	auditor     *audit.Auditor
	metrics     *metrics.Collector
	broadcaster broadcast.Broadcaster
	fetcher     refresh.Fetcher

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// Option customizes Manager construction.
type Option func(*Manager)

// WithClock injects a clock, usually a fake one in tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the logger for every component.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithBroadcaster wires a cross-process invalidation channel. Local
// invalidation events are published to it and remote ones applied from it.
func WithBroadcaster(b broadcast.Broadcaster) Option {
	return func(m *Manager) { m.broadcaster = b }
}

// WithFetcher sets a default fetch function for refresh tasks registered
// without their own.
func WithFetcher(f refresh.Fetcher) Option {
	return func(m *Manager) { m.fetcher = f }
}

// New builds a Manager from the configuration. A nil config uses defaults.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	m := &Manager{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.store = store.New(store.Options{
		Shards:     cfg.Store.Shards,
		MaxEntries: cfg.Store.MaxEntries,
	}, m.clock)

	m.ttl = ttl.NewEngine(ttl.Options{
		Min:             cfg.TTL.Min,
		Max:             cfg.TTL.Max,
		CriticalCeiling: cfg.TTL.CriticalCeiling,
	})
	for dataType, className := range cfg.TTL.Profiles {
		class, ok := ttl.ParseClass(className)
		if !ok {
			return nil, errors.InvalidArgument("unknown volatility class %q for data type %q", className, dataType)
		}
		m.ttl.RegisterProfile(dataType, class)
	}

	m.graph = graph.New()
	m.bus = bus.New(cfg.Bus.HistorySize, m.clock)
	m.metrics = metrics.NewCollector()
	m.refresher = refresh.New(cfg.Refresh, m.commitRefresh, m.clock, m.log)
	m.optimizer = memory.New(m.store, cfg.Memory, m.clock, m.log)
	m.auditor = audit.New(m.store, m.graph, cfg.Audit.Interval, m.clock, m.log)

	m.store.OnRemoval(m.onRemoval)
	m.bus.Subscribe(bus.SubscriberFunc(m.onEvent))

	return m, nil
}

// onRemoval keeps the dependency graph and refresh task table free of
// dangling references whenever an entry leaves the store. Replacement keeps
// the refresh task alive: Set cancels explicitly and the refresher's own
// commit path must not cancel itself.
func (m *Manager) onRemoval(e *store.Entry, cause store.RemovalCause) {
	m.graph.RemoveRef(graph.Ref{Namespace: e.Namespace, Key: e.Key})
	if cause != store.CauseReplaced {
		m.refresher.CancelRef(e.Namespace, e.Key)
	}

	switch cause {
	case store.CauseExpired:
		m.metrics.RecordEviction(cause.String())
		m.bus.Record(bus.Event{
			Key:       e.Key,
			Namespace: e.Namespace,
			Reason:    bus.ReasonTTLExpiry,
			Detail:    "ttl deadline passed",
		})
	case store.CauseEvictedLRU, store.CauseEvictedMemory:
		m.metrics.RecordEviction(cause.String())
	}
}

// onEvent counts every recorded invalidation and forwards locally-originated
// events to the broadcast channel. Remote events keep their origin and are
// never re-published.
func (m *Manager) onEvent(ev bus.Event) {
	m.metrics.RecordInvalidation(ev.Reason.String())
	if m.broadcaster != nil && ev.Origin == m.bus.Origin() {
		if err := m.broadcaster.Publish(context.Background(), ev); err != nil {
			m.log.Warn("broadcast publish failed", zap.String("event", ev.ID), zap.Error(err))
		}
	}
}

// SetOptions carries the metadata for one Set call.
type SetOptions struct {
	// DataType drives adaptive TTL classification and the critical marker.
	DataType string

	// TTL overrides the adaptive TTL when positive. Zero asks the TTL
	// engine; negative is invalid.
	TTL time.Duration

	// TTLContext feeds the adaptive computation. Nil derives time-of-day
	// and weekday from the clock.
	TTLContext *ttl.Context

	// Tags registers dependency edges with the given strength.
	Tags        []string
	TagStrength graph.Strength

	// RefreshFn, when set, schedules a recurring background refresh.
	RefreshFn         refresh.Fetcher
	RefreshPriority   refresh.Priority
	RefreshInterval   time.Duration // 0 uses the priority default
	RefreshMaxRetries int           // 0 uses the configured default
}

// Set stores a value. An existing entry for the same (namespace, key) is
// replaced wholesale: old tags unregistered, old refresh task cancelled.
// When the write pushes the engine past its memory ceiling the entry is
// still stored but flagged first-out for the next eviction pass.
func (m *Manager) Set(namespace, key string, value any, opts SetOptions) error {
	if err := store.ValidateIdentity(namespace, key); err != nil {
		return err
	}
	for _, tag := range opts.Tags {
		if err := graph.ValidateTag(tag); err != nil {
			return err
		}
	}

	entryTTL := opts.TTL
	if entryTTL < 0 {
		return errors.ErrInvalidTTL
	}
	if entryTTL == 0 {
		entryTTL = m.ttl.Calculate(opts.DataType, m.ttlContext(opts.TTLContext))
	}

	now := m.clock.Now()
	size := store.EstimateSize(value)
	entry := &store.Entry{
		Key:            key,
		Namespace:      namespace,
		Value:          value,
		DataType:       opts.DataType,
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            entryTTL,
		ExpiresAt:      now.Add(entryTTL),
		Tags:           append([]string(nil), opts.Tags...),
		SizeEstimate:   size,
	}

	// Replacement does not cancel through the removal hook; do it here so
	// the old entry's task never refreshes the new one.
	m.refresher.CancelRef(namespace, key)

	// Make room before the write so the incoming entry cannot be evicted
	// by its own admission pass.
	if m.optimizer.OverCeiling(size) {
		m.optimizer.Optimize()
	}

	if err := m.store.Set(entry); err != nil {
		return err
	}
	m.metrics.RecordSet()

	if len(opts.Tags) > 0 {
		if err := m.graph.Add(graph.Ref{Namespace: namespace, Key: key}, opts.Tags, opts.TagStrength); err != nil {
			return err
		}
	}

	if opts.RefreshFn != nil {
		maxRetries := opts.RefreshMaxRetries
		if maxRetries <= 0 {
			maxRetries = -1
		}
		if _, err := m.RegisterRefreshTask(RefreshSpec{
			Namespace:  namespace,
			Key:        key,
			Priority:   opts.RefreshPriority,
			Interval:   opts.RefreshInterval,
			MaxRetries: maxRetries,
			Fetch:      opts.RefreshFn,
		}); err != nil {
			return err
		}
	}

	// Still over the ceiling after eviction: the write stands, but the
	// entry goes first next pass.
	if m.optimizer.OverCeiling(0) {
		m.store.MarkEvictNow(namespace, key)
	}
	return nil
}

// ttlContext fills a nil context from the clock.
func (m *Manager) ttlContext(ctx *ttl.Context) ttl.Context {
	if ctx != nil {
		return *ctx
	}
	now := m.clock.Now()
	return ttl.Context{
		TimeOfDay: now.Hour(),
		DayOfWeek: now.Weekday(),
	}
}

// Get returns the cached value, or nil and false on miss or expiry.
func (m *Manager) Get(namespace, key string) (any, bool) {
	e, ok := m.store.Get(namespace, key)
	if !ok {
		m.metrics.RecordMiss()
		return nil, false
	}
	m.metrics.RecordHit()
	return e.Value, true
}

// GetEntry returns a snapshot of the entry including its metadata.
func (m *Manager) GetEntry(namespace, key string) (*store.Entry, bool) {
	return m.store.Peek(namespace, key)
}

// Delete removes the entry, its tag edges, and its refresh task. Deleting
// an absent key is a no-op.
func (m *Manager) Delete(namespace, key string) {
	if m.store.Delete(namespace, key) {
		m.metrics.RecordDelete()
	}
}

// Entries returns a point-in-time snapshot of every entry.
func (m *Manager) Entries() []*store.Entry {
	return m.store.GetAll()
}

// Invalidate removes the entry and records a manual invalidation event.
func (m *Manager) Invalidate(namespace, key, detail string) {
	m.store.Delete(namespace, key)
	m.bus.Record(bus.Event{
		Key:       key,
		Namespace: namespace,
		Reason:    bus.ReasonManual,
		Detail:    detail,
	})
}

// InvalidateByTag cascades over every entry depending on the tag: strong
// dependents are removed, weak dependents are marked stale but stay
// servable. Returns all affected refs.
func (m *Manager) InvalidateByTag(tag string) []graph.Ref {
	strong, weak := m.graph.Partition(tag)

	for _, ref := range strong {
		if m.store.Delete(ref.Namespace, ref.Key) {
			m.bus.Record(bus.Event{
				Key:       ref.Key,
				Namespace: ref.Namespace,
				Reason:    bus.ReasonTag,
				Detail:    "tag " + tag,
			})
		}
	}
	for _, ref := range weak {
		m.store.MarkStale(ref.Namespace, ref.Key)
	}

	affected := make([]graph.Ref, 0, len(strong)+len(weak))
	affected = append(affected, strong...)
	affected = append(affected, weak...)
	return affected
}

// InvalidateUser records a user-action event and invalidates every entry
// tagged user:<userID>.
func (m *Manager) InvalidateUser(userID, action string) []graph.Ref {
	m.bus.Record(bus.Event{
		Key:    "user:" + userID,
		Reason: bus.ReasonUserAction,
		Detail: action,
	})
	return m.InvalidateByTag("user:" + userID)
}

// AddDependency registers tag edges for an existing entry.
func (m *Manager) AddDependency(namespace, key string, tags []string, strength graph.Strength) error {
	if err := store.ValidateIdentity(namespace, key); err != nil {
		return err
	}
	return m.graph.Add(graph.Ref{Namespace: namespace, Key: key}, tags, strength)
}

// DependencyGraph returns the tag → refs snapshot.
func (m *Manager) DependencyGraph() map[string][]graph.Ref {
	return m.graph.Snapshot()
}

// RefreshSpec describes a background refresh task at registration time.
type RefreshSpec struct {
	Namespace string
	Key       string
	Priority  refresh.Priority

	// Interval between successful runs; 0 uses the priority default.
	Interval time.Duration

	// MaxRetries before the task fails; negative uses the config default.
	MaxRetries int

	Fetch refresh.Fetcher
}

// RegisterRefreshTask schedules a recurring refresh for an entry and stores
// the task id as a weak back-reference on it. Failures are tracked on the
// fetch outcome, not the external function's panic behavior.
func (m *Manager) RegisterRefreshTask(spec RefreshSpec) (string, error) {
	fetch := spec.Fetch
	if fetch == nil {
		fetch = m.fetcher
	}
	if fetch == nil {
		return "", errors.ErrNilFetcher
	}
	wrapped := func(ctx context.Context, namespace, key string) (any, error) {
		value, err := fetch(ctx, namespace, key)
		m.metrics.RecordRefresh(err == nil)
		return value, err
	}

	id, err := m.refresher.Register(refresh.TaskSpec{
		Namespace:  spec.Namespace,
		Key:        spec.Key,
		Priority:   spec.Priority,
		Interval:   spec.Interval,
		MaxRetries: spec.MaxRetries,
		Fetch:      wrapped,
	})
	if err != nil {
		return "", err
	}
	m.store.SetRefreshTask(spec.Namespace, spec.Key, id)
	return id, nil
}

// commitRefresh writes a successfully fetched value back into the store,
// preserving the entry's TTL policy, tags, and task back-reference. The
// refresher invokes it outside its own locks.
func (m *Manager) commitRefresh(namespace, key string, value any) error {
	prev, ok := m.store.Peek(namespace, key)
	if !ok {
		// Entry left the store after the fetch started; removal already
		// cancelled the task, so there is nothing to write back.
		return nil
	}

	ref := graph.Ref{Namespace: namespace, Key: key}
	tags := m.graph.TagsForRef(ref)

	now := m.clock.Now()
	entry := &store.Entry{
		Key:            key,
		Namespace:      namespace,
		Value:          value,
		DataType:       prev.DataType,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    prev.AccessCount,
		TTL:            prev.TTL,
		ExpiresAt:      now.Add(prev.TTL),
		Tags:           append([]string(nil), prev.Tags...),
		SizeEstimate:   store.EstimateSize(value),
		RefreshTaskID:  prev.RefreshTaskID,
	}
	if err := m.store.Set(entry); err != nil {
		return err
	}

	// The replacement hook dropped the graph edges; restore them with
	// their original strengths.
	for tag, strength := range tags {
		if err := m.graph.Add(ref, []string{tag}, strength); err != nil {
			return err
		}
	}
	return nil
}

// PauseRefreshTask suppresses future runs; an in-flight run finishes first.
func (m *Manager) PauseRefreshTask(id string) error {
	return m.refresher.Pause(id)
}

// ResumeRefreshTask reschedules a paused task.
func (m *Manager) ResumeRefreshTask(id string) error {
	return m.refresher.Resume(id)
}

// RefreshStatus reports task counts and in-flight activity.
func (m *Manager) RefreshStatus() refresh.Status {
	return m.refresher.Status()
}

// Tasks returns read-only views of every refresh task.
func (m *Manager) Tasks() []refresh.TaskView {
	return m.refresher.Tasks()
}

// Task returns the view for one task id.
func (m *Manager) Task(id string) (refresh.TaskView, error) {
	return m.refresher.Task(id)
}

// RunDueRefreshes launches due refresh tasks immediately and waits for them.
// The periodic scheduler does the same on its own tick; this exists for
// callers that need a deterministic refresh cycle.
func (m *Manager) RunDueRefreshes(ctx context.Context) int {
	n := m.refresher.RunDue(ctx)
	m.refresher.Drain()
	return n
}

// Stats aggregates engine-wide counters.
type Stats struct {
	Store         store.Stats    `json:"store"`
	Refresh       refresh.Status `json:"refresh"`
	Invalidations bus.Stats      `json:"invalidations"`
	Pressure      string         `json:"memory_pressure"`
	GraphTags     int            `json:"graph_tags"`
	GraphEdges    int            `json:"graph_edges"`
	Consistency   float64        `json:"consistency_score"`
}

// Stats returns a point-in-time aggregate snapshot.
func (m *Manager) Stats() Stats {
	return Stats{
		Store:         m.store.Snapshot(),
		Refresh:       m.refresher.Status(),
		Invalidations: m.bus.Snapshot(),
		Pressure:      m.optimizer.Pressure().String(),
		GraphTags:     m.graph.Tags(),
		GraphEdges:    m.graph.Edges(),
		Consistency:   m.auditor.Score(),
	}
}

// Metrics refreshes the gauges and returns the full metric snapshot.
func (m *Manager) Metrics() metrics.Snapshot {
	m.metrics.SetUsedBytes(m.store.UsedBytes())
	m.metrics.SetEntries(m.store.Len())
	m.metrics.SetPressure(int(m.optimizer.Pressure()))
	m.metrics.SetConsistencyScore(m.auditor.Score())
	return m.metrics.Get()
}

// MetricsHandler serves Prometheus exposition for the engine.
func (m *Manager) MetricsHandler() http.Handler {
	return m.metrics.Handler()
}

// MemoryPressure returns the current discretized pressure level.
func (m *Manager) MemoryPressure() memory.Pressure {
	return m.optimizer.Pressure()
}

// Optimize runs one synchronous eviction pass.
func (m *Manager) Optimize() memory.GCStat {
	return m.optimizer.Optimize()
}

// ScheduleOptimization runs an eviction pass now. It is synchronous so
// callers can observe the post-pass pressure immediately.
func (m *Manager) ScheduleOptimization() memory.GCStat {
	return m.Optimize()
}

// GCStats returns the eviction pass history, oldest first.
func (m *Manager) GCStats() []memory.GCStat {
	return m.optimizer.Stats()
}

// ExpectEntry registers an entry future consistency audits must find.
func (m *Manager) ExpectEntry(namespace, key string) {
	m.auditor.Expect(namespace, key)
}

// UnexpectEntry drops a presence expectation.
func (m *Manager) UnexpectEntry(namespace, key string) {
	m.auditor.Unexpect(namespace, key)
}

// CheckConsistency runs a full audit and returns its issues.
func (m *Manager) CheckConsistency() []audit.Issue {
	return m.auditor.ForceCheck().Issues
}

// ForceConsistencyCheck runs a full audit synchronously.
func (m *Manager) ForceConsistencyCheck() audit.Report {
	return m.auditor.ForceCheck()
}

// ConsistencyScore returns the most recent audit score, 1 before any pass.
func (m *Manager) ConsistencyScore() float64 {
	return m.auditor.Score()
}

// IntegrityChecks returns the most recent audit report, if any pass has run.
func (m *Manager) IntegrityChecks() (audit.Report, bool) {
	return m.auditor.LastReport()
}

// EventHistory returns up to limit invalidation events, most recent first.
func (m *Manager) EventHistory(limit int) []bus.Event {
	return m.bus.History(limit)
}

// InvalidationStats returns event totals by reason.
func (m *Manager) InvalidationStats() bus.Stats {
	return m.bus.Snapshot()
}

// Subscribe registers an invalidation event subscriber. Notification is
// synchronous in registration order.
func (m *Manager) Subscribe(s bus.Subscriber) {
	m.bus.Subscribe(s)
}

// Start launches the background loops: refresh scheduling, memory
// optimization, consistency auditing, and (when configured) the remote
// invalidation subscription.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.refresher.Start(runCtx)
	m.optimizer.Run(runCtx)
	m.auditor.Run(runCtx)

	if m.broadcaster != nil {
		if err := m.broadcaster.Subscribe(runCtx, m.applyRemote); err != nil {
			cancel()
			return err
		}
	}

	m.started = true
	m.log.Info("cache engine started")
	return nil
}

// applyRemote replays an invalidation event published by another process.
// Events that originated here are ignored; applied events keep their remote
// origin so they are never re-broadcast.
func (m *Manager) applyRemote(ev bus.Event) {
	if ev.Origin == m.bus.Origin() {
		return
	}
	switch ev.Reason {
	case bus.ReasonTag, bus.ReasonManual, bus.ReasonTTLExpiry:
		if ev.Namespace != "" && ev.Key != "" {
			m.store.Delete(ev.Namespace, ev.Key)
		}
	case bus.ReasonUserAction:
		for _, ref := range m.graph.RefsForTag(ev.Key) {
			m.store.Delete(ref.Namespace, ref.Key)
		}
	}
	m.bus.Record(ev)
}

// ApplyTunables applies the hot-reloadable subset of a new configuration:
// the memory ceiling and TTL volatility profiles.
func (m *Manager) ApplyTunables(cfg *config.Config) {
	if cfg == nil {
		return
	}
	m.optimizer.SetThreshold(cfg.Memory.ThresholdBytes)
	for dataType, className := range cfg.TTL.Profiles {
		if class, ok := ttl.ParseClass(className); ok {
			m.ttl.RegisterProfile(dataType, class)
		}
	}
	m.log.Info("applied configuration update",
		zap.Int64("memory_threshold", cfg.Memory.ThresholdBytes),
		zap.Int("ttl_profiles", len(cfg.TTL.Profiles)),
	)
}

// Stop halts background loops and waits for in-flight refreshes. The cache
// contents survive; Stop only quiesces background activity.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}

	m.cancel()
	m.refresher.Stop()
	m.optimizer.Stop()
	m.auditor.Stop()
	if m.broadcaster != nil {
		if err := m.broadcaster.Close(); err != nil {
			m.log.Warn("broadcast close failed", zap.Error(err))
		}
	}
	m.started = false
	m.log.Info("cache engine stopped")
}
