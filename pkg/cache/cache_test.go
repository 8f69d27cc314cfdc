package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/amzmeta/pkg/cache"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("miss then hit", func(t *testing.T) {
		c := cache.NewMemoryCache(10, time.Minute)
		defer c.Close()

		_, err := c.Get(ctx, "report:q1:0001")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)

		require.NoError(t, c.Set(ctx, "report:q1:0001", []byte(`{"columns":[]}`), 0))
		val, err := c.Get(ctx, "report:q1:0001")
		require.NoError(t, err)
		assert.Equal(t, `{"columns":[]}`, string(val))
	})

	t.Run("eviction by size", func(t *testing.T) {
		c := cache.NewMemoryCache(2, time.Minute)
		defer c.Close()

		require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
		require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
		require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

		_, err := c.Get(ctx, "a")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("expiry", func(t *testing.T) {
		c := cache.NewMemoryCache(10, 20*time.Millisecond)
		defer c.Close()

		require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
		time.Sleep(60 * time.Millisecond)

		_, err := c.Get(ctx, "k")
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})

	t.Run("delete by prefix", func(t *testing.T) {
		c := cache.NewMemoryCache(10, time.Minute)
		defer c.Close()

		require.NoError(t, c.Set(ctx, "report:q2:", []byte("x"), 0))
		require.NoError(t, c.Set(ctx, "report:q3:", []byte("y"), 0))
		require.NoError(t, c.Set(ctx, "other", []byte("z"), 0))

		require.NoError(t, c.DeletePattern(ctx, "report:*"))
		assert.Equal(t, 1, c.Len())

		_, err := c.Get(ctx, "other")
		assert.NoError(t, err)
	})
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c cache.Cache = cache.Noop{}

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	c, err := cache.NewRedisCache(addr, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.DeletePattern(ctx, "amzmeta-test:"))

	_, err = c.Get(ctx, "amzmeta-test:a")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "amzmeta-test:a", []byte("1"), 0))
	val, err := c.Get(ctx, "amzmeta-test:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), val)

	require.NoError(t, c.DeletePattern(ctx, "amzmeta-test:"))
	_, err = c.Get(ctx, "amzmeta-test:a")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
