package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cast-indexer/internal/errors"
)

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheWithClient(client)
	t.Cleanup(func() { _ = cache.Close() })

	return cache, mr
}

func TestRedisCacheUsernames(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupTestCache(t)

	t.Run("miss before set", func(t *testing.T) {
		_, ok, err := cache.GetUsername(ctx, 42)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hit after set", func(t *testing.T) {
		require.NoError(t, cache.SetUsername(ctx, 42, "alice"))

		username, ok, err := cache.GetUsername(ctx, 42)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "alice", username)
	})

	t.Run("entries expire", func(t *testing.T) {
		require.NoError(t, cache.SetUsername(ctx, 43, "bob"))
		mr.FastForward(7 * time.Hour)

		_, ok, err := cache.GetUsername(ctx, 43)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRedisCacheRecentHashes(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupTestCache(t)

	t.Run("unseen hash", func(t *testing.T) {
		seen, err := cache.SeenHash(ctx, "abc123")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("seen after mark", func(t *testing.T) {
		require.NoError(t, cache.MarkHash(ctx, "abc123"))

		seen, err := cache.SeenHash(ctx, "abc123")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("marks expire", func(t *testing.T) {
		require.NoError(t, cache.MarkHash(ctx, "def456"))
		mr.FastForward(2 * time.Hour)

		seen, err := cache.SeenHash(ctx, "def456")
		require.NoError(t, err)
		assert.False(t, seen)
	})
}

func TestRedisCacheErrors(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	cache := NewRedisCacheWithClient(client)
	t.Cleanup(func() { _ = cache.Close() })

	mr.Close()

	_, _, err = cache.GetUsername(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryCache, apperrors.CategoryOf(err))

	_, err = cache.SeenHash(ctx, "abc123")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryCache, apperrors.CategoryOf(err))
}
