package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/cachekit/internal/bus"
	"github.com/wudi/cachekit/internal/logging"
)

// RedisBroadcaster carries invalidation events over a Redis pub/sub
// channel. Payloads are JSON-encoded bus.Events.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
}

// Options configures the Redis transport.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedis creates a broadcaster over the given Redis channel.
func NewRedis(opts Options) *RedisBroadcaster {
	channel := opts.Channel
	if channel == "" {
		channel = "cachekit:invalidations"
	}
	return &RedisBroadcaster{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		channel: channel,
	}
}

// NewRedisWithClient wraps an existing client, for callers that already
// hold one.
func NewRedisWithClient(client *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = "cachekit:invalidations"
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

// Publish sends the event to the channel. Failures are returned but a lost
// broadcast only delays remote invalidation until TTL expiry.
func (b *RedisBroadcaster) Publish(ctx context.Context, ev bus.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe consumes remote events until the context is cancelled. Malformed
// payloads are logged and skipped.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, h Handler) error {
	subCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.pubsub = b.client.Subscribe(subCtx, b.channel)

	// Force the subscription to establish before returning.
	if _, err := b.pubsub.Receive(subCtx); err != nil {
		cancel()
		return err
	}

	go func() {
		ch := b.pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev bus.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logging.Warn("dropping malformed broadcast payload", zap.Error(err))
					continue
				}
				h(ev)
			case <-subCtx.Done():
				return
			}
		}
	}()
	return nil
}

// Close tears down the subscription and the client.
func (b *RedisBroadcaster) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.pubsub != nil {
		b.pubsub.Close()
	}
	return b.client.Close()
}
