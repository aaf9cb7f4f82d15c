package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisClient(redisURL string, keyPrefix string) (*RedisClient, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test the connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{
		client:    client,
		keyPrefix: keyPrefix,
	}, nil
}

// NewRedisClientFromExisting wraps an already-connected *redis.Client.
// Used by tests running against miniredis.
func NewRedisClientFromExisting(client *redis.Client, keyPrefix string) *RedisClient {
	return &RedisClient{client: client, keyPrefix: keyPrefix}
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// prefixKey adds the configured prefix to a key
func (r *RedisClient) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// Get retrieves a value from Redis with the configured key prefix
func (r *RedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	return r.client.Get(ctx, r.prefixKey(key))
}

// Set stores a value in Redis with the configured key prefix
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return r.client.Set(ctx, r.prefixKey(key), value, expiration)
}

// Del deletes keys from Redis with the configured key prefix
func (r *RedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	prefixedKeys := make([]string, len(keys))
	for i, key := range keys {
		prefixedKeys[i] = r.prefixKey(key)
	}
	return r.client.Del(ctx, prefixedKeys...)
}

// Publish publishes a message to a Redis pub/sub channel.
// Channel names are prefixed the same as keys so that Redis ACL rules apply consistently.
func (r *RedisClient) Publish(ctx context.Context, channel string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return r.client.Publish(ctx, r.prefixKey(channel), data).Err()
}

// Subscribe returns a PubSub handle for the given channels.
// Channel names are prefixed the same as keys so that Redis ACL rules apply consistently.
// The returned PubSub transparently strips the prefix from received message channel names.
func (r *RedisClient) Subscribe(ctx context.Context, channels ...string) *PubSub {
	prefixed := make([]string, len(channels))
	for i, ch := range channels {
		prefixed[i] = r.prefixKey(ch)
	}
	return &PubSub{
		inner:     r.client.Subscribe(ctx, prefixed...),
		keyPrefix: r.keyPrefix,
	}
}

// PubSubEventKind classifies events delivered by PubSub.Events.
type PubSubEventKind int

const (
	// PubSubSubscribed confirms that Redis has registered a subscription.
	PubSubSubscribed PubSubEventKind = iota
	// PubSubMessage carries a published payload.
	PubSubMessage
)

// PubSubEvent is a subscription confirmation or a message, with the key
// prefix already stripped from the channel name.
type PubSubEvent struct {
	Kind    PubSubEventKind
	Channel string
	Payload string
}

// PubSub wraps *redis.PubSub applying key-prefix handling transparently.
// Subscribe/Unsubscribe calls have the prefix applied; incoming event channel
// names have the prefix stripped so callers work with unprefixed names.
type PubSub struct {
	inner     *redis.PubSub
	keyPrefix string
	once      sync.Once
	events    chan PubSubEvent
}

// Subscribe adds channels to the subscription.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) error {
	prefixed := make([]string, len(channels))
	for i, ch := range channels {
		prefixed[i] = p.keyPrefix + ch
	}
	return p.inner.Subscribe(ctx, prefixed...)
}

// Unsubscribe removes channels from the subscription.
func (p *PubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	prefixed := make([]string, len(channels))
	for i, ch := range channels {
		prefixed[i] = p.keyPrefix + ch
	}
	return p.inner.Unsubscribe(ctx, prefixed...)
}

// Events returns a channel delivering both subscription confirmations and
// messages. Confirmations let a caller wait until Redis has truly registered
// a subscription before publishing, eliminating the SUBSCRIBE/PUBLISH race.
func (p *PubSub) Events() <-chan PubSubEvent {
	p.once.Do(func() {
		p.events = make(chan PubSubEvent, 100)
		innerCh := p.inner.ChannelWithSubscriptions()
		go func() {
			defer close(p.events)
			for raw := range innerCh {
				switch m := raw.(type) {
				case *redis.Subscription:
					if m.Kind == "subscribe" {
						p.events <- PubSubEvent{
							Kind:    PubSubSubscribed,
							Channel: strings.TrimPrefix(m.Channel, p.keyPrefix),
						}
					}
				case *redis.Message:
					p.events <- PubSubEvent{
						Kind:    PubSubMessage,
						Channel: strings.TrimPrefix(m.Channel, p.keyPrefix),
						Payload: m.Payload,
					}
				}
			}
		}()
	})
	return p.events
}

// Close closes the subscription.
func (p *PubSub) Close() error {
	return p.inner.Close()
}
