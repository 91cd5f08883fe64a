package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/urban/services/attendance/config"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// RedisCache provides caching using Redis
type RedisCache struct {
	client  *redis.Client
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{
		client:  client,
		enabled: true,
	}, nil
}

// Enabled reports whether the cache is usable
func (c *RedisCache) Enabled() bool {
	return c != nil && c.enabled
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, value interface{}) error {
	if !c.Enabled() {
		return errors.New("cache is disabled")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return errors.Wrap(err, "key not found in cache")
		}
		return errors.Wrap(err, "failed to get value from Redis")
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return errors.Wrap(err, "failed to unmarshal cached value")
	}

	return nil
}

// Set stores a value in cache with optional expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.Enabled() {
		return errors.New("cache is disabled")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value for caching")
	}

	err = c.client.Set(ctx, key, data, expiration).Err()
	if err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}

	return nil
}

// GetIssuedCodeCacheKey generates a cache key for an event's pre-rendered
// check-out code. The key includes the bucket so a stale artifact can never
// be served for a later window.
func GetIssuedCodeCacheKey(eventID uuid.UUID, bucket int64) string {
	return fmt.Sprintf("code:%s:%d", eventID.String(), bucket)
}

// GetEventCacheKey generates a cache key for event data
func GetEventCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("event:%s", id.String())
}

// GetBalanceCacheKey generates a cache key for a user's ledger balance
func GetBalanceCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("balance:%s", id.String())
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.Enabled() || c.client == nil {
		return nil
	}

	return c.client.Close()
}
