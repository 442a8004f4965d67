// Package broadcast synchronizes invalidation events across processes. The
// engine only depends on the Broadcaster interface; the Redis pub/sub
// implementation here is one concrete transport.
package broadcast

import (
	"context"

	"github.com/wudi/cachekit/internal/bus"
)

// Handler receives remote invalidation events.
type Handler func(bus.Event)

// Broadcaster publishes local invalidation events and delivers remote ones.
type Broadcaster interface {
	// Publish sends a local event to all other processes.
	Publish(ctx context.Context, ev bus.Event) error

	// Subscribe starts delivering remote events to the handler until the
	// context is cancelled or Close is called. Events originating from
	// this process must be filtered out by the caller via Event.Origin.
	Subscribe(ctx context.Context, h Handler) error

	Close() error
}
