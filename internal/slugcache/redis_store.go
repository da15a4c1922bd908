// Package slugcache keeps slug to conversation id mappings and short-lived
// slug reservations in Redis.
package slugcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lookupPrefix  = "slug:id:"
	reservePrefix = "slug:reserve:"

	defaultCacheTTL       = 24 * time.Hour
	defaultReservationTTL = 30 * time.Second
)

// RedisStore caches slug lookups and implements slug.Reserver.
type RedisStore struct {
	client         *redis.Client
	cacheTTL       time.Duration
	reservationTTL time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, cacheTTL, reservationTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cacheTTL, reservationTTL), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
// Non-positive TTLs fall back to the defaults.
func NewRedisStoreWithClient(client *redis.Client, cacheTTL, reservationTTL time.Duration) *RedisStore {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if reservationTTL <= 0 {
		reservationTTL = defaultReservationTTL
	}
	return &RedisStore{
		client:         client,
		cacheTTL:       cacheTTL,
		reservationTTL: reservationTTL,
	}
}

func lookupKey(slug string) string {
	return lookupPrefix + slug
}

// Reservations share the case-insensitive slug namespace.
func reserveKey(slug string) string {
	return reservePrefix + strings.ToLower(slug)
}

// Lookup returns the conversation id cached for slug.
func (s *RedisStore) Lookup(ctx context.Context, slug string) (string, bool, error) {
	id, err := s.client.Get(ctx, lookupKey(slug)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup slug: %w", err)
	}
	return id, true, nil
}

// Remember caches slug -> conversationID.
func (s *RedisStore) Remember(ctx context.Context, slug, conversationID string) error {
	if err := s.client.Set(ctx, lookupKey(slug), conversationID, s.cacheTTL).Err(); err != nil {
		return fmt.Errorf("remember slug: %w", err)
	}
	return nil
}

// Forget drops a cached mapping, e.g. after a rename.
func (s *RedisStore) Forget(ctx context.Context, slug string) error {
	if err := s.client.Del(ctx, lookupKey(slug)).Err(); err != nil {
		return fmt.Errorf("forget slug: %w", err)
	}
	return nil
}

// Reserve claims candidate for conversationID until the reservation TTL
// lapses. Re-reserving a candidate already held by the same conversation
// succeeds.
func (s *RedisStore) Reserve(ctx context.Context, candidate, conversationID string) (bool, error) {
	key := reserveKey(candidate)
	ok, err := s.client.SetNX(ctx, key, conversationID, s.reservationTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve slug: %w", err)
	}
	if ok {
		return true, nil
	}
	holder, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; try once more.
		return s.client.SetNX(ctx, key, conversationID, s.reservationTTL).Result()
	}
	if err != nil {
		return false, fmt.Errorf("read slug reservation: %w", err)
	}
	return holder == conversationID, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
