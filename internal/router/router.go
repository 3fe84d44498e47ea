// Package router applies decoded batches to the notification surface: it
// extends or starts conversation threads, keeps conversation shortcuts in step
// and clears both on dismissal.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-receiver/internal/shortcut"
	"github.com/tinywideclouds/go-push-receiver/pkg/notification"
	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

// IconSource resolves avatars. It reports failure with the default icon.
type IconSource interface {
	Icon(ctx context.Context, ref, authToken string) surface.Icon
}

// ShortcutManager is the part of shortcut.Manager the router drives.
type ShortcutManager interface {
	Upsert(ctx context.Context, s surface.Shortcut) bool
	Remove(ctx context.Context, roomID string) bool
}

// Result summarizes one Route call.
type Result struct {
	Posted     int
	Suppressed int
	Failed     int
	Cancelled  int
	// PermissionDenied is set when at least one notification was suppressed
	// for lack of permission.
	PermissionDenied bool
}

// Options configure a Router.
type Options struct {
	// Scheme of deep links and person URIs.
	Scheme string
	// IconConcurrency bounds parallel avatar fetches per batch.
	IconConcurrency int
	// Clock is used for shortcut timestamps.
	Clock func() time.Time
}

type Router struct {
	notifications surface.NotificationManager
	shortcuts     ShortcutManager
	icons         IconSource
	opts          Options
	locks         *keyedMutex
	logger        *slog.Logger
}

// New creates a Router. icons may be nil, in which case every icon is the
// default one.
func New(
	notifications surface.NotificationManager,
	shortcuts ShortcutManager,
	icons IconSource,
	opts Options,
	logger *slog.Logger,
) *Router {
	if opts.Scheme == "" {
		opts.Scheme = notification.DefaultScheme
	}
	if opts.IconConcurrency <= 0 {
		opts.IconConcurrency = 4
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Router{
		notifications: notifications,
		shortcuts:     shortcuts,
		icons:         icons,
		opts:          opts,
		locks:         newKeyedMutex(),
		logger:        logger.With("component", "NotificationRouter"),
	}
}

// Route applies the messages of batch in order, then its dismissals. It is
// safe to call concurrently; updates to one conversation are linearized.
func (r *Router) Route(ctx context.Context, batch *notification.Batch) Result {
	var res Result
	if batch == nil {
		return res
	}
	icons := r.resolveIcons(ctx, batch)

	for _, m := range batch.Messages {
		r.applyMessage(ctx, m, icons, &res)
	}
	for _, d := range batch.Dismiss {
		r.applyDismiss(ctx, d.RoomID, &res)
	}

	if res.PermissionDenied {
		r.logger.Warn("Notification permission denied; notifications suppressed", "suppressed", res.Suppressed)
	}
	return res
}

func (r *Router) applyMessage(ctx context.Context, m notification.Message, icons iconSet, res *Result) {
	unlock := r.locks.Lock(m.RoomID)
	defer unlock()

	roomIcon := icons.get(m.RoomAvatar)
	r.shortcuts.Upsert(ctx, shortcut.Build(m, roomIcon, r.opts.Scheme, r.opts.Clock()))

	id := notification.NotificationID(m.RoomID)
	n := surface.Notification{
		ID:         id,
		Self:       r.person(m.Self, icons),
		ChannelID:  ChannelFor(m),
		DeepLink:   notification.EventLink(r.opts.Scheme, m.RoomID, m.EventID),
		ShortcutID: m.RoomID,
		GroupKey:   m.RoomID,
		LargeIcon:  roomIcon,
		Category:   surface.CategoryMessage,
		AutoCancel: true,
		When:       m.SentAt(),
	}

	active, ok, err := r.notifications.Active(ctx, id)
	if err != nil {
		r.logger.Warn("Failed to read active notification; starting a new thread", "notification_id", id, "err", err)
	}
	if ok && active != nil {
		n.Self = active.Self
		n.Messages = append(n.Messages, active.Messages...)
	}
	n.Messages = append(n.Messages, surface.ThreadMessage{
		Text:   m.Text,
		SentAt: m.SentAt(),
		Sender: r.person(m.Sender, icons),
	})
	if m.IsGroup() {
		n.Title = m.RoomName
	}

	if !r.notifications.Permitted(ctx) {
		res.Suppressed++
		res.PermissionDenied = true
		return
	}
	if err := r.notifications.Notify(ctx, n); err != nil {
		if errors.Is(err, surface.ErrPermissionDenied) {
			res.Suppressed++
			res.PermissionDenied = true
			return
		}
		r.logger.Error("Failed to post notification", "notification_id", id, "err", err)
		res.Failed++
		return
	}
	res.Posted++
}

func (r *Router) applyDismiss(ctx context.Context, roomID string, res *Result) {
	unlock := r.locks.Lock(roomID)
	defer unlock()

	id := notification.NotificationID(roomID)
	if err := r.notifications.Cancel(ctx, id); err != nil {
		r.logger.Error("Failed to cancel notification", "notification_id", id, "err", err)
	} else {
		res.Cancelled++
	}
	r.shortcuts.Remove(ctx, roomID)
}

func (r *Router) person(u notification.User, icons iconSet) surface.Person {
	name := u.Name
	if name == "" {
		name = u.ID
	}
	return surface.Person{
		Key:  u.ID,
		Name: name,
		URI:  notification.UserURI(r.opts.Scheme, u.ID),
		Icon: icons.get(u.Avatar),
	}
}

// iconSet maps avatar refs to resolved icons.
type iconSet map[string]surface.Icon

func (s iconSet) get(ref string) surface.Icon {
	return s[ref]
}

// resolveIcons fetches every distinct avatar of the batch in parallel before
// any conversation lock is taken.
func (r *Router) resolveIcons(ctx context.Context, batch *notification.Batch) iconSet {
	icons := make(iconSet)
	if r.icons == nil {
		return icons
	}

	auth := make(map[string]string)
	for _, m := range batch.Messages {
		token := batch.AvatarAuth(m)
		for _, ref := range []string{m.RoomAvatar, m.Sender.Avatar, m.Self.Avatar} {
			if ref == "" {
				continue
			}
			if _, seen := auth[ref]; !seen {
				auth[ref] = token
			}
		}
	}
	if len(auth) == 0 {
		return icons
	}

	type fetched struct {
		ref  string
		icon surface.Icon
	}
	results := make(chan fetched, len(auth))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.IconConcurrency)
	for ref, token := range auth {
		g.Go(func() error {
			results <- fetched{ref: ref, icon: r.icons.Icon(gctx, ref, token)}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for f := range results {
		if !f.icon.IsDefault() {
			icons[f.ref] = f.icon
		}
	}
	return icons
}
