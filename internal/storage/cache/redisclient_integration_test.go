//go:build integration

package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-receiver/internal/storage/cache"
)

func newRedisClient(t *testing.T, namespace string) *cache.RedisClient {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_URL")
	if addr == "" {
		addr = "redis://localhost:6379/1"
	}
	c, err := cache.NewRedisClient(context.Background(), cache.RedisOptions{Addr: addr, Namespace: namespace})
	if err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisClient_Integration(t *testing.T) {
	ctx := context.Background()
	ns := "test-" + time.Now().Format("150405.000000")
	a := newRedisClient(t, ns+"-a")
	b := newRedisClient(t, ns+"-b")

	type entry struct {
		Title string `json:"title"`
	}

	require.NoError(t, a.Set(ctx, "push:notification:1", entry{Title: "hi"}, time.Minute))
	t.Cleanup(func() { _ = a.Del(ctx, "push:notification:1") })

	var got entry
	require.NoError(t, a.Get(ctx, "push:notification:1", &got))
	assert.Equal(t, "hi", got.Title)

	t.Run("other device does not see the entry", func(t *testing.T) {
		err := b.Get(ctx, "push:notification:1", &got)
		assert.ErrorIs(t, err, cache.ErrCacheMiss)
	})

	t.Run("deleted entry is a miss", func(t *testing.T) {
		require.NoError(t, a.Del(ctx, "push:notification:1"))
		err := a.Get(ctx, "push:notification:1", &got)
		assert.True(t, cache.IsMiss(err))
	})
}
