package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestStore_RegisterAndGet(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	require.NoError(t, store.Register(ctx, Entry{Name: "docs", StorageLocator: "chromem:///tmp#docs", Enabled: true}))

	got, err := store.Get(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", got.Name)
	assert.Equal(t, "chromem:///tmp#docs", got.StorageLocator)
	assert.True(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)

	err = store.Register(ctx, Entry{Name: "docs"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EnableDisable(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, store.Register(ctx, Entry{Name: name, Enabled: true}))
	}
	require.NoError(t, store.SetEnabled(ctx, "b", false))

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, names(all))

	enabled, err := store.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, names(enabled))

	assert.ErrorIs(t, store.SetEnabled(ctx, "zzz", true), ErrNotFound)
}

func TestStore_TouchAndRemove(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	base := time.Date(2025, 9, 21, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.Register(ctx, Entry{Name: "docs", Enabled: true}))

	store.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, store.Touch(ctx, "docs"))

	got, err := store.Get(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, base, got.CreatedAt)
	assert.Equal(t, base.Add(time.Hour), got.UpdatedAt)

	removed, err := store.Remove(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Remove(ctx, "docs")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.ErrorIs(t, store.Touch(ctx, "docs"), ErrNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "registry.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Register(ctx, Entry{Name: "kept", Enabled: false}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "kept")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	var version int
	require.NoError(t, reopened.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 2, version)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
