// Package redis implements kv.Store on Redis. SET NX PX provides the
// atomic set-if-absent-with-expiry primitive; compare-and-delete and
// compare-and-expire run as server-side Lua scripts so the read and the
// mutation happen in one round trip.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := kvredis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lumenlabs/relayq/kv"
)

// Compile-time interface check.
var _ kv.Store = (*Store)(nil)

// compareAndDeleteScript deletes the key only when its current value
// matches the caller's token. Returns the number of keys deleted (0 or 1).
var compareAndDeleteScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// compareAndExpireScript resets the key's TTL (milliseconds) only when its
// current value matches the caller's token. Returns 1 when renewed.
var compareAndExpireScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Store implements kv.Store backed by Redis.
type Store struct {
	client goredis.Cmdable
}

// New creates a new Redis-backed keyed store. The caller owns the Redis
// client lifecycle.
func New(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Get returns the value stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("relayq/kv/redis: get: %w", err)
	}
	return val, true, nil
}

// SetNX stores value at key only if absent, with the given TTL.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("relayq/kv/redis: setnx: %w", err)
	}
	return ok, nil
}

// Set unconditionally stores value at key with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("relayq/kv/redis: set: %w", err)
	}
	return nil
}

// Delete removes key unconditionally.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("relayq/kv/redis: del: %w", err)
	}
	return nil
}

// CompareAndDelete removes key only if its current value equals expected.
// The check and the delete execute as one Lua script on the server.
func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, expected).Int()
	if err != nil {
		return false, fmt.Errorf("relayq/kv/redis: compare-and-delete: %w", err)
	}
	return n == 1, nil
}

// CompareAndExpire resets the TTL of key only if its current value equals
// expected. The check and the PEXPIRE execute as one Lua script.
func (s *Store) CompareAndExpire(ctx context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	n, err := compareAndExpireScript.Run(ctx, s.client, []string{key}, expected, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("relayq/kv/redis: compare-and-expire: %w", err)
	}
	return n == 1, nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
