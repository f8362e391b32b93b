package authclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps sessions in Redis so every server instance sees the
// same browser session, and announces writes over pub/sub. All watchers
// share one pattern subscription.
type RedisStorage struct {
	client *redis.Client
	prefix string

	mu       sync.Mutex
	sub      *redis.PubSub
	watchers map[string]map[int]chan struct{}
	nextID   int
	closed   bool
	done     chan struct{}
}

// NewRedisStorage creates a Redis-backed session storage.
func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{
		client:   client,
		prefix:   "dermodel:auth:",
		watchers: make(map[string]map[int]chan struct{}),
	}
}

func (r *RedisStorage) key(key string) string {
	return r.prefix + key
}

func (r *RedisStorage) channelPrefix() string {
	return r.prefix + "changed:"
}

func (r *RedisStorage) channel(key string) string {
	return r.channelPrefix() + key
}

func (r *RedisStorage) GetItem(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *RedisStorage) SetItem(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("storage: failed to set %s: %w", key, err)
	}
	return r.client.Publish(ctx, r.channel(key), "set").Err()
}

func (r *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("storage: failed to remove %s: %w", key, err)
	}
	return r.client.Publish(ctx, r.channel(key), "del").Err()
}

// Watch reports change announcements for key until ctx is done, then
// closes the returned channel. Announcements arriving while one is
// pending are coalesced.
func (r *RedisStorage) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("storage: closed")
	}
	if r.sub == nil {
		if err := r.subscribeLocked(ctx); err != nil {
			return nil, err
		}
	}

	out := make(chan struct{}, 1)
	id := r.nextID
	r.nextID++
	if r.watchers[key] == nil {
		r.watchers[key] = make(map[int]chan struct{})
	}
	r.watchers[key][id] = out

	done := r.done
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		r.unwatch(key, id)
	}()
	return out, nil
}

// Watchers returns the number of live watch channels.
func (r *RedisStorage) Watchers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ws := range r.watchers {
		n += len(ws)
	}
	return n
}

// Close ends the shared subscription and closes every watch channel.
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sub := r.sub
	if r.done != nil {
		close(r.done)
	}
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (r *RedisStorage) subscribeLocked(ctx context.Context) error {
	sub := r.client.PSubscribe(context.WithoutCancel(ctx), r.channelPrefix()+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("storage: failed to subscribe: %w", err)
	}
	r.sub = sub
	r.done = make(chan struct{})
	go r.fanOut(sub.Channel())
	return nil
}

func (r *RedisStorage) fanOut(msgs <-chan *redis.Message) {
	for msg := range msgs {
		key := strings.TrimPrefix(msg.Channel, r.channelPrefix())

		r.mu.Lock()
		for _, out := range r.watchers[key] {
			select {
			case out <- struct{}{}:
			default: // a reload is already pending
			}
		}
		r.mu.Unlock()
	}
}

func (r *RedisStorage) unwatch(key string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if out, ok := r.watchers[key][id]; ok {
		delete(r.watchers[key], id)
		if len(r.watchers[key]) == 0 {
			delete(r.watchers, key)
		}
		close(out)
	}
}
