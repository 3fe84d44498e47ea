package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClient_Key(t *testing.T) {
	t.Run("namespaced per device", func(t *testing.T) {
		c := &RedisClient{namespace: "device-1"}
		assert.Equal(t, "device-1:push:notification:7", c.key("push:notification:7"))
	})

	t.Run("no namespace", func(t *testing.T) {
		c := &RedisClient{}
		assert.Equal(t, "push:avatar:abc", c.key("push:avatar:abc"))
	})
}

func TestRedisOptions(t *testing.T) {
	t.Run("host and port", func(t *testing.T) {
		opts, err := redisOptions(RedisOptions{Addr: "localhost:6379", Password: "pw", DB: 2})
		require.NoError(t, err)
		assert.Equal(t, "localhost:6379", opts.Addr)
		assert.Equal(t, "pw", opts.Password)
		assert.Equal(t, 2, opts.DB)
	})

	t.Run("url with explicit overrides", func(t *testing.T) {
		opts, err := redisOptions(RedisOptions{Addr: "redis://:urlpw@cache.internal:6380/3", DB: 4})
		require.NoError(t, err)
		assert.Equal(t, "cache.internal:6380", opts.Addr)
		assert.Equal(t, "urlpw", opts.Password)
		assert.Equal(t, 4, opts.DB)
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := redisOptions(RedisOptions{Addr: "redis://host:6379/notadb"})
		assert.Error(t, err)
	})
}
