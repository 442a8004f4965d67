package bus

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
)

func newTestBus(capacity int) *Bus {
	return New(capacity, clockwork.NewFakeClock())
}

func TestRecord_FillsDefaults(t *testing.T) {
	b := newTestBus(8)

	ev := b.Record(Event{Key: "k", Namespace: "ns", Reason: ReasonManual})
	if ev.ID == "" {
		t.Error("expected generated event id")
	}
	if ev.Origin != b.Origin() {
		t.Errorf("expected local origin %q, got %q", b.Origin(), ev.Origin)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestHistory_MostRecentFirst(t *testing.T) {
	b := newTestBus(8)
	for i := 0; i < 5; i++ {
		b.Record(Event{Key: fmt.Sprintf("k%d", i), Reason: ReasonManual})
	}

	events := b.History(3)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"k4", "k3", "k2"} {
		if events[i].Key != want {
			t.Errorf("history[%d] = %q, want %q", i, events[i].Key, want)
		}
	}
}

func TestHistory_RingDropsOldest(t *testing.T) {
	b := newTestBus(3)
	for i := 0; i < 5; i++ {
		b.Record(Event{Key: fmt.Sprintf("k%d", i), Reason: ReasonTag})
	}

	events := b.History(0)
	if len(events) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(events))
	}
	if events[0].Key != "k4" || events[2].Key != "k2" {
		t.Errorf("unexpected retained events: %v", events)
	}

	// Totals still count dropped events.
	if st := b.Snapshot(); st.TotalEvents != 5 {
		t.Errorf("expected 5 total events, got %d", st.TotalEvents)
	}
}

func TestSubscribe_SynchronousInOrder(t *testing.T) {
	b := newTestBus(8)

	var order []string
	b.Subscribe(SubscriberFunc(func(ev Event) { order = append(order, "first") }))
	b.Subscribe(SubscriberFunc(func(ev Event) { order = append(order, "second") }))

	b.Record(Event{Key: "k", Reason: ReasonManual})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected registration-order notification, got %v", order)
	}
}

func TestSnapshot_ByReason(t *testing.T) {
	b := newTestBus(16)
	b.Record(Event{Key: "a", Reason: ReasonManual})
	b.Record(Event{Key: "b", Reason: ReasonManual})
	b.Record(Event{Key: "c", Reason: ReasonTag})
	b.Record(Event{Key: "d", Reason: ReasonTTLExpiry})
	b.Record(Event{Key: "e", Reason: ReasonUserAction})

	st := b.Snapshot()
	if st.TotalEvents != 5 {
		t.Errorf("expected 5 events, got %d", st.TotalEvents)
	}
	want := map[string]int64{"manual": 2, "tag": 1, "ttl-expiry": 1, "user-action": 1}
	for reason, n := range want {
		if st.ByReason[reason] != n {
			t.Errorf("ByReason[%s] = %d, want %d", reason, st.ByReason[reason], n)
		}
	}
}

func TestReason_JSONRoundTrip(t *testing.T) {
	for _, reason := range []Reason{ReasonManual, ReasonTag, ReasonTTLExpiry, ReasonUserAction} {
		data, err := json.Marshal(reason)
		if err != nil {
			t.Fatalf("marshal %v: %v", reason, err)
		}
		var back Reason
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != reason {
			t.Errorf("round trip %v → %s → %v", reason, data, back)
		}
	}

	var r Reason
	if err := json.Unmarshal([]byte(`"bogus"`), &r); err == nil {
		t.Error("unknown reason should fail to unmarshal")
	}
}
