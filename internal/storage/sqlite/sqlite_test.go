package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-receiver/internal/storage/sqlite"
)

func testDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.False(t, result.Dirty)
	assert.Equal(t, uint(1), result.Version)
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	prefs := sqlite.NewPreferences(testDB(t))

	_, ok, err := prefs.Get(ctx, "device_id")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, prefs.Set(ctx, "device_id", "one"))
	require.NoError(t, prefs.Set(ctx, "device_id", "two"))

	v, ok, err := prefs.Get(ctx, "device_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	t.Run("empty value is still set", func(t *testing.T) {
		require.NoError(t, prefs.Set(ctx, "blank", ""))
		v, ok, err := prefs.Get(ctx, "blank")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, v)
	})

	require.NoError(t, prefs.Delete(ctx, "device_id"))
	require.NoError(t, prefs.Delete(ctx, "device_id"))
	_, ok, err = prefs.Get(ctx, "device_id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPreferences_PersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	db, err := sqlite.Open(path)
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	require.NoError(t, sqlite.NewPreferences(db).Set(ctx, "push_token", "tok"))
	require.NoError(t, db.Close())

	db, err = sqlite.Open(path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Migrate()
	require.NoError(t, err)

	v, ok, err := sqlite.NewPreferences(db).Get(ctx, "push_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", v)
}
