// Package refresh re-fetches cache entries in the background on a bounded
// worker pool, with per-task exponential backoff and a circuit breaker
// around the external fetch function.
package refresh

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/cachekit/internal/config"
	"github.com/wudi/cachekit/internal/errors"
)

// Refresher owns the refresh task table. The store holds only weak task-id
// back-references; nothing outside this package mutates task state.
type Refresher struct {
	cfg    config.RefreshConfig
	commit CommitFunc
	clock  clockwork.Clock
	log    *zap.Logger

	mu    sync.Mutex
	tasks map[string]*task
	byRef map[refKey]string

	sem   *semaphore.Weighted
	group singleflight.Group

	inflight sync.WaitGroup
	running  atomic.Int64

	successes atomic.Int64
	failures  atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

type refKey struct {
	namespace string
	key       string
}

// New creates a refresher. commit is invoked for every successful fetch.
func New(cfg config.RefreshConfig, commit CommitFunc, clock clockwork.Clock, log *zap.Logger) *Refresher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2.0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{
		cfg:    cfg,
		commit: commit,
		clock:  clock,
		log:    log,
		tasks:  make(map[string]*task),
		byRef:  make(map[refKey]string),
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		stop:   make(chan struct{}),
	}
}

// Register validates the spec and schedules the task. The first run is
// deferred according to priority: critical is immediate, low waits longest.
func (r *Refresher) Register(spec TaskSpec) (string, error) {
	if spec.Fetch == nil {
		return "", errors.ErrNilFetcher
	}
	if spec.Priority < PriorityLow || spec.Priority > PriorityCritical {
		return "", errors.ErrInvalidPriority.WithDetail("%d", int(spec.Priority))
	}
	if spec.Namespace == "" || spec.Key == "" {
		return "", errors.InvalidArgument("refresh task requires namespace and key")
	}

	if spec.Interval <= 0 {
		spec.Interval = spec.Priority.defaultInterval()
	}
	if spec.MaxRetries < 0 {
		spec.MaxRetries = r.cfg.DefaultMaxRetries
	}

	t := &task{
		id:        uuid.NewString(),
		spec:      spec,
		state:     StateScheduled,
		nextRunAt: r.clock.Now().Add(spec.Priority.initialDelay()),
		boff:      r.newBackoff(),
	}
	if r.cfg.Breaker.Enabled {
		t.breaker = r.newBreaker(t.id)
	}

	r.mu.Lock()
	// One task per entry: a re-registration replaces the previous task.
	rk := refKey{spec.Namespace, spec.Key}
	if oldID, ok := r.byRef[rk]; ok {
		if old := r.tasks[oldID]; old != nil {
			old.cancelled = true
		}
		delete(r.tasks, oldID)
	}
	r.tasks[t.id] = t
	r.byRef[rk] = t.id
	r.mu.Unlock()

	return t.id, nil
}

func (r *Refresher) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BackoffBase
	b.Multiplier = r.cfg.BackoffMultiplier
	b.MaxInterval = r.cfg.BackoffMax
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0 // deterministic retry spacing
	b.Clock = r.clock
	b.Reset()
	return b
}

func (r *Refresher) newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	threshold := r.cfg.Breaker.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    name,
		Timeout: r.cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
}

// CancelRef drops the task attached to an entry, if any. In-flight runs
// finish but their result is discarded.
func (r *Refresher) CancelRef(namespace, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rk := refKey{namespace, key}
	id, ok := r.byRef[rk]
	if !ok {
		return
	}
	if t := r.tasks[id]; t != nil {
		t.cancelled = true
	}
	delete(r.tasks, id)
	delete(r.byRef, rk)
}

// Pause suppresses future scheduling. A running task finishes its in-flight
// fetch first.
func (r *Refresher) Pause(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return errors.ErrTaskNotFound
	}
	switch t.state {
	case StateScheduled:
		t.state = StatePaused
	case StateRunning:
		t.pauseRequested = true
	case StatePaused:
		// already paused, no-op
	default:
		return errors.InvalidArgument("task in state %s cannot be paused", t.state)
	}
	return nil
}

// Resume reschedules a paused task.
func (r *Refresher) Resume(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return errors.ErrTaskNotFound
	}
	if t.state == StateRunning && t.pauseRequested {
		t.pauseRequested = false
		return nil
	}
	if t.state != StatePaused {
		return errors.InvalidArgument("task in state %s cannot be resumed", t.state)
	}
	t.state = StateScheduled
	t.nextRunAt = r.clock.Now().Add(t.spec.Priority.initialDelay())
	return nil
}

// Start runs the scheduling loop until Stop or context cancellation.
func (r *Refresher) Start(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.Tick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				r.RunDue(ctx)
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the scheduling loop and waits for in-flight refreshes.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.inflight.Wait()
}

// RunDue launches every due task that fits under the concurrency bound,
// ordered by priority (descending) then nextRunAt (ascending). Returns the
// number launched. Exposed so tests and the facade can drive the scheduler
// deterministically.
func (r *Refresher) RunDue(ctx context.Context) int {
	now := r.clock.Now()

	r.mu.Lock()
	var due []*task
	for _, t := range r.tasks {
		if t.state == StateScheduled && !t.nextRunAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].spec.Priority != due[j].spec.Priority {
			return due[i].spec.Priority > due[j].spec.Priority
		}
		return due[i].nextRunAt.Before(due[j].nextRunAt)
	})

	launched := 0
	for _, t := range due {
		if !r.sem.TryAcquire(1) {
			break
		}
		t.state = StateRunning
		t.lastRunAt = now
		launched++
		r.inflight.Add(1)
		go r.runTask(ctx, t)
	}
	r.mu.Unlock()
	return launched
}

// Drain blocks until all in-flight refreshes complete.
func (r *Refresher) Drain() {
	r.inflight.Wait()
}

func (r *Refresher) runTask(ctx context.Context, t *task) {
	defer r.inflight.Done()
	defer r.sem.Release(1)

	r.running.Add(1)
	value, err := r.fetch(ctx, t)
	r.running.Add(-1)

	if err == nil && r.commit != nil && !r.isCancelled(t) {
		err = r.commit(t.spec.Namespace, t.spec.Key, value)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t.cancelled {
		return
	}

	now := r.clock.Now()
	if err != nil {
		r.failures.Add(1)
		t.attempt++
		t.lastErr = err.Error()
		if t.attempt >= t.spec.MaxRetries {
			t.state = StateFailed
			r.log.Warn("refresh task failed permanently",
				zap.String("task", t.id),
				zap.String("namespace", t.spec.Namespace),
				zap.String("key", t.spec.Key),
				zap.Int("attempts", t.attempt),
				zap.Error(err),
			)
			return
		}
		// A Pause issued during the run parks the task instead of
		// rescheduling it; the failed attempt still counts.
		if t.pauseRequested {
			t.pauseRequested = false
			t.state = StatePaused
			return
		}
		t.state = StateScheduled
		t.nextRunAt = now.Add(t.boff.NextBackOff())
		return
	}

	r.successes.Add(1)
	t.attempt = 0
	t.lastErr = ""
	t.boff.Reset()
	if t.pauseRequested {
		t.pauseRequested = false
		t.state = StatePaused
		return
	}
	t.state = StateDone
	// Recurring: done immediately reschedules.
	t.state = StateScheduled
	t.nextRunAt = now.Add(t.spec.Interval)
}

// fetch invokes the external function, deduplicating concurrent fetches of
// the same entry and routing through the breaker when enabled. No refresher
// lock is held across the call.
func (r *Refresher) fetch(ctx context.Context, t *task) (any, error) {
	key := t.spec.Namespace + "\x00" + t.spec.Key
	value, err, _ := r.group.Do(key, func() (any, error) {
		if t.breaker != nil {
			return t.breaker.Execute(func() (any, error) {
				return t.spec.Fetch(ctx, t.spec.Namespace, t.spec.Key)
			})
		}
		return t.spec.Fetch(ctx, t.spec.Namespace, t.spec.Key)
	})
	return value, err
}

func (r *Refresher) isCancelled(t *task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return t.cancelled
}

// Status is a point-in-time snapshot of the refresher.
type Status struct {
	TotalTasks      int   `json:"total_tasks"`
	ActiveTasks     int   `json:"active_tasks"`
	ActiveRefreshes int   `json:"active_refreshes"`
	QueueLength     int   `json:"queue_length"`
	FailedTasks     int   `json:"failed_tasks"`
	Successes       int64 `json:"successes"`
	Failures        int64 `json:"failures"`
}

// Status reports task counts and in-flight activity.
func (r *Refresher) Status() Status {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		TotalTasks:      len(r.tasks),
		ActiveRefreshes: int(r.running.Load()),
		Successes:       r.successes.Load(),
		Failures:        r.failures.Load(),
	}
	for _, t := range r.tasks {
		switch t.state {
		case StateScheduled, StateRunning, StateDone:
			st.ActiveTasks++
			if t.state == StateScheduled && !t.nextRunAt.After(now) {
				st.QueueLength++
			}
		case StateFailed:
			st.FailedTasks++
		}
	}
	return st
}

// Tasks returns read-only views of every task, highest priority first.
func (r *Refresher) Tasks() []TaskView {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]TaskView, 0, len(r.tasks))
	for _, t := range r.tasks {
		views = append(views, t.view())
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Priority != views[j].Priority {
			pi, _ := ParsePriority(views[i].Priority)
			pj, _ := ParsePriority(views[j].Priority)
			return pi > pj
		}
		return views[i].NextRunAt.Before(views[j].NextRunAt)
	})
	return views
}

// Task returns the view for one task id.
func (r *Refresher) Task(id string) (TaskView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return TaskView{}, errors.ErrTaskNotFound
	}
	return t.view(), nil
}
