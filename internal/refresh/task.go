package refresh

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/wudi/cachekit/internal/errors"
)

// Fetcher produces a fresh value for one entry. It is external to the
// engine; failures are captured and retried, never propagated to readers.
type Fetcher func(ctx context.Context, namespace, key string) (any, error)

// CommitFunc writes a successfully fetched value back into the store. It is
// invoked outside all refresher locks.
type CommitFunc func(namespace, key string, value any) error

// Priority orders refresh tasks. Higher runs first and sooner.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a priority name to its value.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, errors.ErrInvalidPriority.WithDetail("%q", s)
}

// initialDelay is how long a newly registered task waits before its first
// run. Critical work starts immediately.
func (p Priority) initialDelay() time.Duration {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return time.Second
	case PriorityNormal:
		return 10 * time.Second
	default:
		return time.Minute
	}
}

// defaultInterval spaces recurring runs when the task spec does not set one.
func (p Priority) defaultInterval() time.Duration {
	switch p {
	case PriorityCritical:
		return 10 * time.Second
	case PriorityHigh:
		return 30 * time.Second
	case PriorityNormal:
		return time.Minute
	default:
		return 5 * time.Minute
	}
}

// State is the task lifecycle state.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
	StatePaused
	StateFailed
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// TaskSpec describes a refresh task at registration time.
type TaskSpec struct {
	Namespace string
	Key       string
	Priority  Priority

	// Interval between successful runs; 0 uses the priority default.
	Interval time.Duration

	// MaxRetries before the task fails; negative uses the config default.
	MaxRetries int

	Fetch Fetcher
}

// task is the refresher-owned state for one registered spec.
type task struct {
	id   string
	spec TaskSpec

	state     State
	attempt   int
	nextRunAt time.Time
	lastRunAt time.Time
	lastErr   string

	// pauseRequested defers the pause until an in-flight run finishes.
	pauseRequested bool
	cancelled      bool

	boff    *backoff.ExponentialBackOff
	breaker *gobreaker.CircuitBreaker[any]
}

// TaskView is a read-only copy of task state for status queries.
type TaskView struct {
	ID         string    `json:"id"`
	Namespace  string    `json:"namespace"`
	Key        string    `json:"key"`
	Priority   string    `json:"priority"`
	State      string    `json:"state"`
	Attempt    int       `json:"attempt"`
	MaxRetries int       `json:"max_retries"`
	NextRunAt  time.Time `json:"next_run_at"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

func (t *task) view() TaskView {
	return TaskView{
		ID:         t.id,
		Namespace:  t.spec.Namespace,
		Key:        t.spec.Key,
		Priority:   t.spec.Priority.String(),
		State:      t.state.String(),
		Attempt:    t.attempt,
		MaxRetries: t.spec.MaxRetries,
		NextRunAt:  t.nextRunAt,
		LastRunAt:  t.lastRunAt,
		LastError:  t.lastErr,
	}
}
