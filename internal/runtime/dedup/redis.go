package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces dedup entries in Redis.
const RedisKeyPrefix = "commitguard:dedup:"

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps positions in Redis so several worker processes share them.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("commitguard: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("commitguard: redis ping: %w", err)
	}
	return NewRedisStoreFromClient(client, opts.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, RedisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Record(ctx context.Context, key, position string) error {
	return s.client.Set(ctx, RedisKeyPrefix+key, position, s.ttl).Err()
}

// Cleanup is a no-op; entries expire through their TTL.
func (s *RedisStore) Cleanup(context.Context, time.Duration) error {
	return nil
}

// ExpiresEntries reports whether records carry a TTL.
func (s *RedisStore) ExpiresEntries() bool {
	return s.ttl > 0
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
