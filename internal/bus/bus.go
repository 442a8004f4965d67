// Package bus records invalidation events and fans them out to subscribers.
// The bus keeps no state beyond its bounded history; all side effects are
// observable through the history and through store mutation by callers.
package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Reason classifies why an invalidation happened.
type Reason int

const (
	ReasonManual Reason = iota
	ReasonTag
	ReasonTTLExpiry
	ReasonUserAction
)

func (r Reason) String() string {
	switch r {
	case ReasonManual:
		return "manual"
	case ReasonTag:
		return "tag"
	case ReasonTTLExpiry:
		return "ttl-expiry"
	case ReasonUserAction:
		return "user-action"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the reason as its string name for wire payloads.
func (r Reason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a reason from its string name.
func (r *Reason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "manual":
		*r = ReasonManual
	case "tag":
		*r = ReasonTag
	case "ttl-expiry":
		*r = ReasonTTLExpiry
	case "user-action":
		*r = ReasonUserAction
	default:
		return fmt.Errorf("unknown invalidation reason %q", s)
	}
	return nil
}

// Event is one recorded invalidation. Events are read-only history; nothing
// in the engine references them after recording.
type Event struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Namespace string    `json:"namespace,omitempty"`
	Reason    Reason    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber observes recorded events. Notification is synchronous, in
// registration order, on the recording goroutine.
type Subscriber interface {
	OnInvalidation(Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(Event)

func (f SubscriberFunc) OnInvalidation(ev Event) { f(ev) }

// Bus is a bounded most-recent-first event log with synchronous fan-out.
type Bus struct {
	mu       sync.Mutex
	ring     []Event
	next     int
	count    int
	capacity int

	subs []Subscriber

	origin string
	clock  clockwork.Clock

	totals map[Reason]int64
}

// New creates a bus with the given history capacity.
func New(capacity int, clock clockwork.Clock) *Bus {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Bus{
		ring:     make([]Event, capacity),
		capacity: capacity,
		origin:   uuid.NewString(),
		clock:    clock,
		totals:   make(map[Reason]int64),
	}
}

// Origin identifies this bus instance in broadcast payloads so remote
// events are never re-applied at their source.
func (b *Bus) Origin() string {
	return b.origin
}

// Subscribe registers a subscriber. Registration order is notification
// order.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

// Record fills in the event's ID, origin, and timestamp if unset, appends
// it to the history (silently dropping the oldest event when full), and
// notifies subscribers.
func (b *Bus) Record(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Origin == "" {
		ev.Origin = b.origin
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.clock.Now()
	}

	b.mu.Lock()
	b.ring[b.next] = ev
	b.next = (b.next + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
	b.totals[ev.Reason]++
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.OnInvalidation(ev)
	}
	return ev
}

// History returns up to limit events, most recent first. limit <= 0 returns
// the full retained history.
func (b *Bus) History(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (b.next - 1 - i + b.capacity) % b.capacity
		out = append(out, b.ring[idx])
	}
	return out
}

// Stats summarizes recorded events.
type Stats struct {
	TotalEvents int64            `json:"total_events"`
	ByReason    map[string]int64 `json:"by_reason"`
}

// Snapshot returns event totals by reason.
func (b *Bus) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Stats{ByReason: make(map[string]int64, len(b.totals))}
	for reason, n := range b.totals {
		st.ByReason[reason.String()] = n
		st.TotalEvents += n
	}
	return st
}
