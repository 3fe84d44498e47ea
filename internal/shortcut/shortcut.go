// Package shortcut keeps one standing conversation shortcut per room that has
// pending notifications.
package shortcut

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-receiver/pkg/notification"
	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

// ErrShortcutOp wraps every shortcut failure. It is logged, never returned.
var ErrShortcutOp = errors.New("shortcut: operation failed")

// Build derives the shortcut for the conversation of m.
func Build(m notification.Message, icon surface.Icon, scheme string, now time.Time) surface.Shortcut {
	label := m.RoomName
	if label == "" {
		label = m.RoomID
	}
	suffix := "Direct Message"
	if m.IsGroup() {
		suffix = "Group Chat"
	}
	return surface.Shortcut{
		ID:         m.RoomID,
		ShortLabel: label,
		LongLabel:  label + " - " + suffix,
		Icon:       icon,
		DeepLink:   notification.RoomLink(scheme, m.RoomID),
		Categories: []string{surface.CategoryConversation},
		UpdatedAt:  now,
	}
}

// Manager applies shortcut changes to a publisher and contains its failures.
type Manager struct {
	publisher surface.ShortcutPublisher
	logger    *slog.Logger
}

func NewManager(publisher surface.ShortcutPublisher, logger *slog.Logger) *Manager {
	return &Manager{publisher: publisher, logger: logger.With("component", "ShortcutManager")}
}

// Upsert creates or replaces the shortcut. It reports whether the publisher
// accepted it.
func (m *Manager) Upsert(ctx context.Context, s surface.Shortcut) bool {
	if s.ID == "" || s.ShortLabel == "" {
		m.logger.Warn("Rejected shortcut", "err", fmt.Errorf("%w: missing id or label", ErrShortcutOp))
		return false
	}
	if err := m.publisher.UpsertShortcut(ctx, s); err != nil {
		m.logger.Warn("Failed to publish shortcut", "shortcut_id", s.ID, "err", fmt.Errorf("%w: %w", ErrShortcutOp, err))
		return false
	}
	return true
}

// Remove deletes the shortcut for roomID. Removing an absent shortcut succeeds.
func (m *Manager) Remove(ctx context.Context, roomID string) bool {
	if err := m.publisher.RemoveShortcut(ctx, roomID); err != nil {
		m.logger.Warn("Failed to remove shortcut", "shortcut_id", roomID, "err", fmt.Errorf("%w: %w", ErrShortcutOp, err))
		return false
	}
	return true
}
