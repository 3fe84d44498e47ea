// Package cache keeps active notifications in Redis so conversation threads
// survive a restart of the receiver.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// NotificationStore decorates a NotificationManager. Reads are read-aside,
// Notify writes through and Cancel invalidates.
type NotificationStore struct {
	surface.NotificationManager
	cache  CacheClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewNotificationStore(inner surface.NotificationManager, cache CacheClient, ttl time.Duration, logger *slog.Logger) *NotificationStore {
	return &NotificationStore{
		NotificationManager: inner,
		cache:               cache,
		ttl:                 ttl,
		logger:              logger.With("component", "NotificationStore"),
	}
}

// Active prefers the wrapped manager, which knows what is on screen, and
// falls back to the cached thread after a restart.
func (s *NotificationStore) Active(ctx context.Context, id int32) (*surface.Notification, bool, error) {
	n, ok, err := s.NotificationManager.Active(ctx, id)
	if err == nil && ok {
		return n, true, nil
	}

	var cached surface.Notification
	if cerr := s.cache.Get(ctx, cacheKey(id), &cached); cerr == nil {
		return &cached, true, nil
	} else if !IsMiss(cerr) {
		s.logger.Warn("Notification cache read failed", "notification_id", id, "err", cerr)
	}
	return n, ok, err
}

func (s *NotificationStore) Notify(ctx context.Context, n surface.Notification) error {
	if err := s.NotificationManager.Notify(ctx, n); err != nil {
		return err
	}
	// The cache is an optimization; a failed write only loses the thread on restart.
	if err := s.cache.Set(ctx, cacheKey(n.ID), n, s.ttl); err != nil {
		s.logger.Warn("Notification cache write failed", "notification_id", n.ID, "err", err)
	}
	return nil
}

// Cancel always clears the cache so a dismissed thread is never revived.
func (s *NotificationStore) Cancel(ctx context.Context, id int32) error {
	err := s.NotificationManager.Cancel(ctx, id)
	if derr := s.cache.Del(ctx, cacheKey(id)); derr != nil {
		s.logger.Warn("Notification cache delete failed", "notification_id", id, "err", derr)
	}
	return err
}

// Notifications lists what the wrapped manager shows, when it can.
func (s *NotificationStore) Notifications(ctx context.Context) ([]surface.Notification, error) {
	lister, ok := s.NotificationManager.(surface.NotificationLister)
	if !ok {
		return nil, fmt.Errorf("notification manager cannot list")
	}
	return lister.Notifications(ctx)
}

func cacheKey(id int32) string {
	return fmt.Sprintf("push:notification:%d", id)
}
