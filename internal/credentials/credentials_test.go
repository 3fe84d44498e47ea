package credentials_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-receiver/internal/credentials"
	"github.com/tinywideclouds/go-push-receiver/internal/keystore"
	"github.com/tinywideclouds/go-push-receiver/internal/storage/sqlite"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPrefs(t *testing.T) *sqlite.Preferences {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)
	return sqlite.NewPreferences(db)
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	prefs := newPrefs(t)
	keys := keystore.New(keystore.NewMemoryBackend(), prefs, newTestLogger(), keystore.WithAliasPreference("credentials_key_alias"))
	store := credentials.NewStore(prefs, keys, newTestLogger())

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, credentials.ErrNoCredentials)
	_, err = store.ServerURL(ctx)
	assert.ErrorIs(t, err, credentials.ErrNoCredentials)

	require.NoError(t, store.Save(ctx, credentials.Credentials{
		ServerURL: "https://gomuks.example.org/",
		Username:  "me",
		Password:  "hunter2",
	}))

	raw, ok, err := prefs.Get(ctx, credentials.PrefPassword)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, "hunter2", "password is sealed at rest")

	c, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://gomuks.example.org", c.ServerURL)
	assert.Equal(t, "me", c.Username)
	assert.Equal(t, "hunter2", c.Password)

	server, err := store.ServerURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://gomuks.example.org", server)
}

func TestStore_UnreadablePassword(t *testing.T) {
	ctx := context.Background()
	prefs := newPrefs(t)
	keys := keystore.New(keystore.NewMemoryBackend(), prefs, newTestLogger())
	store := credentials.NewStore(prefs, keys, newTestLogger())

	require.NoError(t, store.Save(ctx, credentials.Credentials{ServerURL: "https://x.org", Username: "me", Password: "pw"}))
	require.NoError(t, prefs.Set(ctx, credentials.PrefPassword, "garbage"))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, credentials.ErrNoCredentials)
}

func TestStore_LostKey(t *testing.T) {
	ctx := context.Background()
	prefs := newPrefs(t)
	store := credentials.NewStore(prefs, keystore.New(keystore.NewMemoryBackend(), prefs, newTestLogger()), newTestLogger())
	require.NoError(t, store.Save(ctx, credentials.Credentials{ServerURL: "https://x.org", Username: "me", Password: "pw"}))

	// A new backend no longer holds the key the password was sealed with.
	restarted := credentials.NewStore(prefs, keystore.New(keystore.NewMemoryBackend(), prefs, newTestLogger()), newTestLogger())
	_, err := restarted.Load(ctx)
	assert.ErrorIs(t, err, credentials.ErrNoCredentials)
}

func TestStore_RestartWithMemoryBackend(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)
	prefs := sqlite.NewPreferences(db)
	login := credentials.Credentials{ServerURL: "https://x.org", Username: "me", Password: "pw"}

	first := credentials.NewStore(prefs, keystore.New(keystore.NewMemoryBackend(), prefs, newTestLogger(), keystore.WithAliasPreference("credentials_key_alias")), newTestLogger())
	require.NoError(t, first.Save(ctx, login))

	keys := keystore.New(keystore.NewMemoryBackend(), prefs, newTestLogger(), keystore.WithAliasPreference("credentials_key_alias"))
	restarted := credentials.NewStore(prefs, keys, newTestLogger())

	dropped, err := restarted.DropUnreadable(ctx)
	require.NoError(t, err)
	assert.True(t, dropped)
	_, err = restarted.Load(ctx)
	assert.ErrorIs(t, err, credentials.ErrNoCredentials)

	server, err := restarted.ServerURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://x.org", server, "server url is kept for re-entry")

	dropped, err = keys.DropStaleAlias(ctx)
	require.NoError(t, err)
	assert.True(t, dropped)

	require.NoError(t, restarted.Save(ctx, login))
	c, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pw", c.Password)

	dropped, err = restarted.DropUnreadable(ctx)
	require.NoError(t, err)
	assert.False(t, dropped, "readable password is kept")
}

func TestStore_RestartWithSealedBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	prefs := newPrefs(t)
	params := keystore.Argon2Params{Time: 1, Memory: 64, Threads: 1}

	open := func() *credentials.Store {
		secret, err := keystore.LoadOrCreateSecret(filepath.Join(dir, "keystore.secret"))
		require.NoError(t, err)
		backend, err := keystore.NewSealedFileBackend(filepath.Join(dir, "keys"), secret, params)
		require.NoError(t, err)
		return credentials.NewStore(prefs, keystore.New(backend, prefs, newTestLogger(), keystore.WithAliasPreference("credentials_key_alias")), newTestLogger())
	}

	require.NoError(t, open().Save(ctx, credentials.Credentials{ServerURL: "https://x.org", Username: "me", Password: "pw"}))

	restarted := open()
	dropped, err := restarted.DropUnreadable(ctx)
	require.NoError(t, err)
	assert.False(t, dropped)
	c, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pw", c.Password)
}

func TestStore_SaveValidation(t *testing.T) {
	ctx := context.Background()
	prefs := newPrefs(t)
	store := credentials.NewStore(prefs, keystore.New(keystore.NewMemoryBackend(), prefs, newTestLogger()), newTestLogger())

	for _, c := range []credentials.Credentials{
		{ServerURL: "not a url", Username: "me", Password: "pw"},
		{ServerURL: "ftp://x.org", Username: "me", Password: "pw"},
		{ServerURL: "https://x.org", Password: "pw"},
		{ServerURL: "https://x.org", Username: "me"},
	} {
		assert.ErrorIs(t, store.Save(ctx, c), credentials.ErrInvalid)
	}
}
