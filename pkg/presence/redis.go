package presence

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared through Redis. Expiry is left to Redis.
type RedisStore struct {
	client redis.UniversalClient
	closed atomic.Bool
}

// NewRedisStore creates a store on client. Close does not close the
// client, which may be shared.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Save stores data under key with a TTL.
func (r *RedisStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	if ttl <= 0 {
		return r.Delete(ctx, key)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// Load returns the data under key.
func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed
	}
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}
	return r.client.Del(ctx, key).Err()
}

// Touch extends the TTL of key.
func (r *RedisStore) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.closed.Load() {
		return false, ErrStoreClosed
	}
	return r.client.Expire(ctx, key, ttl).Result()
}

// Close marks the store closed.
func (r *RedisStore) Close() error {
	r.closed.Store(true)
	return nil
}
