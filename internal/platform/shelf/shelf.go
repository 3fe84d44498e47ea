// Package shelf is the in-process notification surface: it holds the visible
// notifications, standing shortcuts and registered channels of the device.
package shelf

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

// Options configure a Shelf.
type Options struct {
	// MaxShortcuts caps standing shortcuts; zero means no cap.
	MaxShortcuts int
	// Permitted is the initial notification permission.
	Permitted bool
}

// Shelf implements every capability in package surface. It is safe for
// concurrent use.
type Shelf struct {
	mu            sync.RWMutex
	notifications map[int32]surface.Notification
	shortcuts     map[string]surface.Shortcut
	channels      map[string]surface.Channel

	permitted    atomic.Bool
	maxShortcuts int
	logger       *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Shelf {
	s := &Shelf{
		notifications: make(map[int32]surface.Notification),
		shortcuts:     make(map[string]surface.Shortcut),
		channels:      make(map[string]surface.Channel),
		maxShortcuts:  opts.MaxShortcuts,
		logger:        logger.With("component", "Shelf"),
	}
	s.permitted.Store(opts.Permitted)
	return s
}

// SetPermitted grants or revokes notification permission.
func (s *Shelf) SetPermitted(permitted bool) {
	s.permitted.Store(permitted)
}

func (s *Shelf) Permitted(_ context.Context) bool {
	return s.permitted.Load()
}

func (s *Shelf) Active(_ context.Context, id int32) (*surface.Notification, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, false, nil
	}
	n.Messages = append([]surface.ThreadMessage(nil), n.Messages...)
	return &n, true, nil
}

func (s *Shelf) Notify(_ context.Context, n surface.Notification) error {
	if !s.permitted.Load() {
		return surface.ErrPermissionDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.channels) > 0 {
		if _, ok := s.channels[n.ChannelID]; !ok {
			return fmt.Errorf("shelf: unknown channel %q", n.ChannelID)
		}
	}
	n.Messages = append([]surface.ThreadMessage(nil), n.Messages...)
	s.notifications[n.ID] = n
	s.logger.Debug("Notification posted", "notification_id", n.ID, "channel", n.ChannelID, "messages", len(n.Messages))
	return nil
}

func (s *Shelf) Cancel(_ context.Context, id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notifications, id)
	return nil
}

// Notifications lists visible notifications, newest first.
func (s *Shelf) Notifications(_ context.Context) ([]surface.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]surface.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].When.After(out[j].When) })
	return out, nil
}

func (s *Shelf) UpsertShortcut(_ context.Context, sc surface.Shortcut) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.shortcuts[sc.ID]; !exists && s.maxShortcuts > 0 && len(s.shortcuts) >= s.maxShortcuts {
		return surface.ErrShortcutQuota
	}
	s.shortcuts[sc.ID] = sc
	return nil
}

func (s *Shelf) RemoveShortcut(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shortcuts, id)
	return nil
}

// Shortcuts lists standing shortcuts, most recently updated first.
func (s *Shelf) Shortcuts(_ context.Context) ([]surface.Shortcut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]surface.Shortcut, 0, len(s.shortcuts))
	for _, sc := range s.shortcuts {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// RegisterChannels declares channels. Once any are registered, notifications
// must name one of them.
func (s *Shelf) RegisterChannels(_ context.Context, channels []surface.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range channels {
		if c.ID == "" {
			return fmt.Errorf("shelf: channel without id")
		}
		s.channels[c.ID] = c
	}
	return nil
}

// Channel returns a registered channel.
func (s *Shelf) Channel(id string) (surface.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	return c, ok
}
