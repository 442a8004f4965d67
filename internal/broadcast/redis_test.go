package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/cachekit/internal/bus"
)

func redisAvailable(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:6379",
		DialTimeout: 100 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisBroadcaster_PublishSubscribe(t *testing.T) {
	client := redisAvailable(t)
	ctx := context.Background()

	sub := NewRedisWithClient(client, "cachekit:test:events")
	defer sub.Close()

	received := make(chan bus.Event, 1)
	if err := sub.Subscribe(ctx, func(ev bus.Event) { received <- ev }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub := NewRedis(Options{Addr: "localhost:6379", Channel: "cachekit:test:events"})
	defer pub.Close()

	want := bus.Event{
		ID:        "ev-1",
		Key:       "k",
		Namespace: "ns",
		Reason:    bus.ReasonTag,
		Origin:    "remote-process",
	}
	if err := pub.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != want.ID || got.Key != want.Key || got.Reason != want.Reason {
			t.Errorf("received %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}
