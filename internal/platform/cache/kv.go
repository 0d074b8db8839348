// Package cache provides the KV store backing the device-list snapshot cache,
// with a Redis implementation for deployment and an in-memory one for tests
// and single-node setups.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when the key does not exist (or has expired).
var ErrCacheMiss = errors.New("cache miss")

// KVStore is the minimal key-value contract used for cached snapshots.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisKVStore implements KVStore on go-redis.
type RedisKVStore struct {
	client *redis.Client
}

// NewRedisKVStore returns a KVStore backed by the given Redis client.
func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// NewRedisClient creates a Redis client for the given address. Callers should
// ping it once at startup and close it on shutdown.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryKVStore implements KVStore with a mutex-guarded map. Expiry is
// checked lazily on Get.
type MemoryKVStore struct {
	mu sync.Mutex
	m  map[string]memoryEntry
}

// NewMemoryKVStore returns an empty in-memory KVStore.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{m: make(map[string]memoryEntry)}
}

func (s *MemoryKVStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.m, key)
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (s *MemoryKVStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.m[key] = e
	return nil
}

func (s *MemoryKVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
