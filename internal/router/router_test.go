package router_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-receiver/internal/platform/shelf"
	"github.com/tinywideclouds/go-push-receiver/internal/router"
	"github.com/tinywideclouds/go-push-receiver/internal/shortcut"
	"github.com/tinywideclouds/go-push-receiver/pkg/notification"
	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	shelf  *shelf.Shelf
	router *router.Router
}

func newFixture(t *testing.T, permitted bool, icons router.IconSource) *fixture {
	t.Helper()
	logger := newTestLogger()
	s := shelf.New(shelf.Options{Permitted: permitted}, logger)
	require.NoError(t, s.RegisterChannels(context.Background(), router.Channels()))
	r := router.New(s, shortcut.NewManager(s, logger), icons, router.Options{
		Clock: func() time.Time { return time.UnixMilli(1700000000000) },
	}, logger)
	return &fixture{shelf: s, router: r}
}

func dm(text, event string, ts int64) notification.Message {
	return notification.Message{
		RoomID:    "!abc",
		RoomName:  "Alice",
		EventID:   event,
		Sender:    notification.User{ID: "@alice", Name: "Alice"},
		Self:      notification.User{ID: "@me", Name: "Me"},
		Text:      text,
		Timestamp: ts,
		Sound:     true,
	}
}

func (f *fixture) active(t *testing.T, roomID string) (*surface.Notification, bool) {
	t.Helper()
	n, ok, err := f.shelf.Active(context.Background(), notification.NotificationID(roomID))
	require.NoError(t, err)
	return n, ok
}

func (f *fixture) shortcuts(t *testing.T) []surface.Shortcut {
	t.Helper()
	list, err := f.shelf.Shortcuts(context.Background())
	require.NoError(t, err)
	return list
}

func TestRoute_DirectMessage(t *testing.T) {
	f := newFixture(t, true, nil)
	res := f.router.Route(context.Background(), &notification.Batch{
		Messages: []notification.Message{dm("hi", "$1", 1700000000000)},
	})
	assert.Equal(t, 1, res.Posted)
	assert.False(t, res.PermissionDenied)

	n, ok := f.active(t, "!abc")
	require.True(t, ok)
	assert.Equal(t, router.ChannelDMNoisy, n.ChannelID)
	assert.Empty(t, n.Title)
	assert.Equal(t, "matrix:roomid/abc/e/1", n.DeepLink)
	assert.Equal(t, "!abc", n.ShortcutID)
	assert.Equal(t, "!abc", n.GroupKey)
	assert.Equal(t, surface.CategoryMessage, n.Category)
	assert.True(t, n.AutoCancel)
	assert.Equal(t, "@me", n.Self.Key)
	assert.Equal(t, "matrix:u/me", n.Self.URI)
	require.Len(t, n.Messages, 1)
	assert.Equal(t, "hi", n.Messages[0].Text)
	assert.Equal(t, "matrix:u/alice", n.Messages[0].Sender.URI)

	list := f.shortcuts(t)
	require.Len(t, list, 1)
	assert.Equal(t, "!abc", list[0].ID)
	assert.Equal(t, "Alice", list[0].ShortLabel)
	assert.Equal(t, "Alice - Direct Message", list[0].LongLabel)
}

func TestRoute_ChannelSelection(t *testing.T) {
	testCases := []struct {
		name     string
		roomName string
		sender   string
		sound    bool
		channel  string
		title    string
	}{
		{"group noisy", "Team", "Alice", true, router.ChannelGroupNoisy, "Team"},
		{"group silent", "Team", "Alice", false, router.ChannelGroupSilent, "Team"},
		{"dm noisy", "Alice", "Alice", true, router.ChannelDMNoisy, ""},
		{"dm silent", "Alice", "Alice", false, router.ChannelDMSilent, ""},
		{"unknown noisy", "", "Alice", true, router.ChannelNoisy, ""},
		{"unknown silent", "Team", "", false, router.ChannelSilent, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true, nil)
			m := dm("hi", "$1", 1)
			m.RoomName, m.Sender.Name, m.Sound = tc.roomName, tc.sender, tc.sound

			f.router.Route(context.Background(), &notification.Batch{Messages: []notification.Message{m}})
			n, ok := f.active(t, "!abc")
			require.True(t, ok)
			assert.Equal(t, tc.channel, n.ChannelID)
			assert.Equal(t, tc.title, n.Title)
		})
	}
}

func TestRoute_ThreadExtends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)

	f.router.Route(ctx, &notification.Batch{Messages: []notification.Message{
		dm("m1", "$1", 1000),
		dm("m2", "$2", 2000),
	}})
	n, ok := f.active(t, "!abc")
	require.True(t, ok)
	require.Len(t, n.Messages, 2)
	assert.Equal(t, "m1", n.Messages[0].Text)
	assert.Equal(t, "m2", n.Messages[1].Text)
	last, _ := n.Latest()
	assert.Equal(t, "m2", last.Text)
	assert.Equal(t, "matrix:roomid/abc/e/2", n.DeepLink)

	f.router.Route(ctx, &notification.Batch{Messages: []notification.Message{dm("m3", "$3", 3000)}})
	n, _ = f.active(t, "!abc")
	assert.Len(t, n.Messages, 3)
}

func TestRoute_Dismiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	f.router.Route(ctx, &notification.Batch{Messages: []notification.Message{dm("hi", "$1", 1)}})

	res := f.router.Route(ctx, &notification.Batch{Dismiss: []notification.Dismiss{{RoomID: "!abc"}}})
	assert.Equal(t, 1, res.Cancelled)
	_, ok := f.active(t, "!abc")
	assert.False(t, ok)
	assert.Empty(t, f.shortcuts(t))

	t.Run("dismiss of unknown conversation", func(t *testing.T) {
		res := f.router.Route(ctx, &notification.Batch{Dismiss: []notification.Dismiss{{RoomID: "!nothing"}}})
		assert.Equal(t, 1, res.Cancelled)
	})

	t.Run("message after dismiss starts from scratch", func(t *testing.T) {
		f.router.Route(ctx, &notification.Batch{Messages: []notification.Message{dm("again", "$9", 9)}})
		n, ok := f.active(t, "!abc")
		require.True(t, ok)
		require.Len(t, n.Messages, 1)
		assert.Equal(t, "again", n.Messages[0].Text)
		assert.Len(t, f.shortcuts(t), 1)
	})
}

func TestRoute_MessagesBeforeDismiss(t *testing.T) {
	f := newFixture(t, true, nil)
	f.router.Route(context.Background(), &notification.Batch{
		Dismiss:  []notification.Dismiss{{RoomID: "!abc"}},
		Messages: []notification.Message{dm("hi", "$1", 1)},
	})
	_, ok := f.active(t, "!abc")
	assert.False(t, ok)
	assert.Empty(t, f.shortcuts(t))
}

func TestRoute_PermissionDenied(t *testing.T) {
	f := newFixture(t, false, nil)
	res := f.router.Route(context.Background(), &notification.Batch{Messages: []notification.Message{
		dm("m1", "$1", 1),
		dm("m2", "$2", 2),
	}})
	assert.True(t, res.PermissionDenied)
	assert.Equal(t, 2, res.Suppressed)
	assert.Zero(t, res.Posted)

	_, ok := f.active(t, "!abc")
	assert.False(t, ok)
	assert.Len(t, f.shortcuts(t), 1, "shortcuts do not depend on permission")
}

func TestRoute_EmptyAndNilBatch(t *testing.T) {
	f := newFixture(t, true, nil)
	assert.Equal(t, router.Result{}, f.router.Route(context.Background(), nil))
	assert.Equal(t, router.Result{}, f.router.Route(context.Background(), &notification.Batch{}))
}

type stubIcons struct {
	mu    sync.Mutex
	calls map[string]string
}

func (s *stubIcons) Icon(_ context.Context, ref, auth string) surface.Icon {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[ref] = auth
	if ref == "broken" {
		return surface.Icon{}
	}
	return surface.Icon{PNG: []byte(ref)}
}

func TestRoute_Avatars(t *testing.T) {
	icons := &stubIcons{calls: make(map[string]string)}
	f := newFixture(t, true, icons)

	m := dm("hi", "$1", 1)
	m.RoomAvatar = "room.png"
	m.Sender.Avatar = "alice.png"
	m.Self.Avatar = "broken"
	m.ImageAuth = "own-token"

	other := dm("yo", "$2", 2)
	other.RoomID = "!def"
	other.RoomAvatar = "room2.png"

	f.router.Route(context.Background(), &notification.Batch{
		Messages:  []notification.Message{m, other},
		ImageAuth: "batch-token",
	})

	assert.Equal(t, "own-token", icons.calls["room.png"])
	assert.Equal(t, "batch-token", icons.calls["room2.png"])

	n, ok := f.active(t, "!abc")
	require.True(t, ok)
	assert.Equal(t, []byte("room.png"), n.LargeIcon.PNG)
	assert.Equal(t, []byte("alice.png"), n.Messages[0].Sender.Icon.PNG)
	assert.True(t, n.Self.Icon.IsDefault(), "failed enrichment falls back to the default icon")

	list := f.shortcuts(t)
	require.Len(t, list, 2)
}

func TestRoute_ConcurrentSameConversation(t *testing.T) {
	f := newFixture(t, true, nil)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := dm(fmt.Sprintf("m%d", i), fmt.Sprintf("$%d", i), int64(i))
			f.router.Route(context.Background(), &notification.Batch{Messages: []notification.Message{m}})
		}(i)
	}
	wg.Wait()

	n, ok := f.active(t, "!abc")
	require.True(t, ok)
	assert.Len(t, n.Messages, workers, "no update is lost")
}

func TestConversationChannel(t *testing.T) {
	c := router.ConversationChannel("!abc", "Alice")
	assert.Equal(t, "conversation_channel_!abc", c.ID)
	assert.Equal(t, "!abc", c.ConversationID)
	assert.Equal(t, "Alice", c.Name)
	assert.Len(t, router.Channels(), 7)
}
