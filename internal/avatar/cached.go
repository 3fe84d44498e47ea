package avatar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

// Cache is the subset of the Redis client the avatar cache needs.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Cached is a read-aside cache in front of a Fetcher. Entries are keyed by the
// resolved URL without the token, so rotating tokens share one entry.
// Failed fetches are not cached.
type Cached struct {
	fetcher *Fetcher
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
}

func NewCached(fetcher *Fetcher, cache Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{fetcher: fetcher, cache: cache, ttl: ttl, logger: logger.With("component", "AvatarCache")}
}

func (c *Cached) Icon(ctx context.Context, ref, authToken string) surface.Icon {
	if ref == "" {
		return surface.Icon{}
	}
	target, err := c.fetcher.Resolve(ctx, ref)
	if err != nil {
		return surface.Icon{}
	}
	key := cacheKey(target.String())

	var icon surface.Icon
	if err := c.cache.Get(ctx, key, &icon); err == nil && !icon.IsDefault() {
		return icon
	}

	icon = c.fetcher.Icon(ctx, ref, authToken)
	if !icon.IsDefault() {
		if err := c.cache.Set(ctx, key, icon, c.ttl); err != nil {
			c.logger.Debug("Avatar cache write failed", "err", err)
		}
	}
	return icon
}

func cacheKey(target string) string {
	sum := sha256.Sum256([]byte(target))
	return "push:avatar:" + hex.EncodeToString(sum[:])
}
