// Package firestore stores a device's standing conversation shortcuts in
// Firestore so they can be listed and restored by other surfaces.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

// ShortcutStore implements surface.ShortcutPublisher and surface.ShortcutLister.
type ShortcutStore struct {
	client   *firestore.Client
	deviceID string
	max      int
	logger   *slog.Logger
}

// NewShortcutStore scopes the store to one device. A max of zero means no quota.
func NewShortcutStore(client *firestore.Client, deviceID string, max int, logger *slog.Logger) *ShortcutStore {
	return &ShortcutStore{
		client:   client,
		deviceID: deviceID,
		max:      max,
		logger:   logger.With("component", "ShortcutStore"),
	}
}

func (s *ShortcutStore) UpsertShortcut(ctx context.Context, sc surface.Shortcut) error {
	ref := s.shortcutRef(sc.ID)
	if s.max > 0 {
		full, err := s.quotaReached(ctx, ref)
		if err != nil {
			return err
		}
		if full {
			return surface.ErrShortcutQuota
		}
	}
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = time.Now()
	}
	_, err := ref.Set(ctx, sc)
	return err
}

// quotaReached reports whether adding ref would exceed the quota. Replacing
// an existing shortcut never does.
func (s *ShortcutStore) quotaReached(ctx context.Context, ref *firestore.DocumentRef) (bool, error) {
	_, err := ref.Get(ctx)
	if err == nil {
		return false, nil
	}
	if status.Code(err) != codes.NotFound {
		return false, fmt.Errorf("failed to read shortcut: %w", err)
	}
	docs, err := s.shortcutsCollection().Select().Documents(ctx).GetAll()
	if err != nil {
		return false, fmt.Errorf("failed to count shortcuts: %w", err)
	}
	return len(docs) >= s.max, nil
}

// RemoveShortcut is idempotent: Firestore deletes of missing documents succeed.
func (s *ShortcutStore) RemoveShortcut(ctx context.Context, id string) error {
	_, err := s.shortcutRef(id).Delete(ctx)
	return err
}

func (s *ShortcutStore) Shortcuts(ctx context.Context) ([]surface.Shortcut, error) {
	iter := s.shortcutsCollection().OrderBy("updated_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	shortcuts := make([]surface.Shortcut, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var sc surface.Shortcut
		if err := doc.DataTo(&sc); err != nil {
			s.logger.Warn("Skipping corrupt shortcut", "doc", doc.Ref.ID, "err", err)
			continue
		}
		shortcuts = append(shortcuts, sc)
	}
	return shortcuts, nil
}

// shortcutRef: devices/{deviceID}/shortcuts/{roomHash}
func (s *ShortcutStore) shortcutRef(id string) *firestore.DocumentRef {
	return s.shortcutsCollection().Doc(hashID(id))
}

func (s *ShortcutStore) shortcutsCollection() *firestore.CollectionRef {
	return s.client.Collection("devices").Doc(s.deviceID).Collection("shortcuts")
}

// Room ids contain characters Firestore does not allow in document ids.
func hashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
