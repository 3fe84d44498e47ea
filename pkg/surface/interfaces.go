package surface

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the process may not post notifications.
	ErrPermissionDenied = errors.New("surface: notification permission denied")
	// ErrShortcutQuota is returned when the platform refuses another standing shortcut.
	ErrShortcutQuota = errors.New("surface: shortcut quota exceeded")
)

// NotificationManager defines the contract for the platform component that
// owns visible notifications. Implementations are safe for concurrent use.
type NotificationManager interface {
	// Active returns the visible notification with the given id, if any.
	Active(ctx context.Context, id int32) (*Notification, bool, error)

	// Notify posts or replaces the notification identified by n.ID.
	Notify(ctx context.Context, n Notification) error

	// Cancel removes the notification. Cancelling an unknown id is not an error.
	Cancel(ctx context.Context, id int32) error

	// Permitted reports whether the process currently holds permission to post.
	Permitted(ctx context.Context) bool
}

// ShortcutPublisher defines the contract for the platform component that owns
// standing conversation shortcuts.
type ShortcutPublisher interface {
	// UpsertShortcut creates or replaces the shortcut identified by s.ID.
	UpsertShortcut(ctx context.Context, s Shortcut) error

	// RemoveShortcut deletes the shortcut. Removing an unknown id is not an error.
	RemoveShortcut(ctx context.Context, id string) error
}

// NotificationLister is implemented by managers that can enumerate what they show.
type NotificationLister interface {
	Notifications(ctx context.Context) ([]Notification, error)
}

// ShortcutLister is implemented by publishers that can enumerate their shortcuts.
type ShortcutLister interface {
	Shortcuts(ctx context.Context) ([]Shortcut, error)
}

// ChannelRegistrar is implemented by surfaces that need channels declared up front.
type ChannelRegistrar interface {
	RegisterChannels(ctx context.Context, channels []Channel) error
}
