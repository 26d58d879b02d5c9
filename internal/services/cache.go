package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kiviatgo/kiviatgo-backend/internal/database"
)

const (
	// CacheKeyPrefix is the Redis key prefix for cached data
	CacheKeyPrefix = "cache:"
	// DefaultCacheTTL for read caches (progress history changes rarely)
	DefaultCacheTTL = 15 * time.Minute
	MinCacheTTL     = 1 * time.Minute
	MaxCacheTTL     = 1 * time.Hour
)

// CacheService provides a JSON read cache on top of Redis.
type CacheService struct{}

// Get retrieves a value from cache
func (c *CacheService) Get(key string, dest interface{}) (bool, error) {
	ctx := context.Background()
	cacheKey := CacheKeyPrefix + key

	val, err := database.RedisClient.Get(ctx, cacheKey).Result()
	if err != nil {
		return false, nil // Cache miss, not an error
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}

	return true, nil
}

// Set stores a value in cache with default TTL
func (c *CacheService) Set(key string, value interface{}) error {
	return c.SetWithTTL(key, value, DefaultCacheTTL)
}

// SetWithTTL stores a value in cache with custom TTL (clamped)
func (c *CacheService) SetWithTTL(key string, value interface{}, ttl time.Duration) error {
	if ttl < MinCacheTTL {
		ttl = MinCacheTTL
	}
	if ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}

	ctx := context.Background()
	cacheKey := CacheKeyPrefix + key

	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return database.RedisClient.Set(ctx, cacheKey, jsonData, ttl).Err()
}

// Delete removes a value from cache
func (c *CacheService) Delete(key string) error {
	ctx := context.Background()
	return database.RedisClient.Del(ctx, CacheKeyPrefix+key).Err()
}
