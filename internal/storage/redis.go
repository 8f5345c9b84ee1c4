package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cast-indexer/internal/config"
	apperrors "github.com/cast-indexer/internal/errors"
	"github.com/redis/go-redis/v9"
)

// Cache key prefixes and TTLs. Usernames change rarely; recent cast hashes
// only need to outlive the window where the listener and a backfill run can
// race on the same cast.
const (
	usernameKeyPrefix   = "username:"
	recentHashKeyPrefix = "cast:"

	usernameTTL   = 6 * time.Hour
	recentHashTTL = time.Hour
)

// RedisCache wraps the Redis client and exposes the indexer's cache
// operations: username lookups for mention reconstruction and a recent-hash
// fast path in front of the dedup existence check.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient wraps an existing client (used by tests with miniredis)
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetUsername returns the cached username for fid. The second return value
// reports whether the cache held an entry.
func (r *RedisCache) GetUsername(ctx context.Context, fid int64) (string, bool, error) {
	value, err := r.client.Get(ctx, fmt.Sprintf("%s%d", usernameKeyPrefix, fid)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewCacheError("get username", err)
	}
	return value, true, nil
}

// SetUsername caches the username for fid
func (r *RedisCache) SetUsername(ctx context.Context, fid int64, username string) error {
	key := fmt.Sprintf("%s%d", usernameKeyPrefix, fid)
	if err := r.client.Set(ctx, key, username, usernameTTL).Err(); err != nil {
		return apperrors.NewCacheError("set username", err)
	}
	return nil
}

// SeenHash reports whether a cast hash was recently marked as ingested
func (r *RedisCache) SeenHash(ctx context.Context, hash string) (bool, error) {
	count, err := r.client.Exists(ctx, recentHashKeyPrefix+hash).Result()
	if err != nil {
		return false, apperrors.NewCacheError("check hash", err)
	}
	return count > 0, nil
}

// MarkHash records a cast hash as ingested for the fast-path window
func (r *RedisCache) MarkHash(ctx context.Context, hash string) error {
	if err := r.client.Set(ctx, recentHashKeyPrefix+hash, 1, recentHashTTL).Err(); err != nil {
		return apperrors.NewCacheError("mark hash", err)
	}
	return nil
}
