package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriterLockExclusive(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	ok, err := store.AcquireLock(ctx, "docs", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireLock(ctx, "docs", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease must not be taken")

	ok, err = store.AcquireLock(ctx, "other", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "leases are per name")

	require.NoError(t, store.ReleaseLock(ctx, "docs", "b"), "releasing a lease not held is a no-op")
	ok, err = store.AcquireLock(ctx, "docs", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseLock(ctx, "docs", "a"))
	ok, err = store.AcquireLock(ctx, "docs", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_WriterLockExpiry(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	ok, err := store.AcquireLock(ctx, "docs", "crashed", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	store.now = func() time.Time { return base.Add(10 * time.Second) }
	require.NoError(t, store.RenewLock(ctx, "docs", "crashed", 30*time.Second))

	store.now = func() time.Time { return base.Add(39 * time.Second) }
	ok, err = store.AcquireLock(ctx, "docs", "next", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "renewed lease still valid")

	store.now = func() time.Time { return base.Add(41 * time.Second) }
	ok, err = store.AcquireLock(ctx, "docs", "next", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is taken over")

	err = store.RenewLock(ctx, "docs", "crashed", 30*time.Second)
	assert.ErrorIs(t, err, ErrLockLost)
}

func TestStore_WriterLockSharedAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.db")

	first, err := Open(path)
	require.NoError(t, err)
	defer first.Close()
	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	ok, err := first.AcquireLock(ctx, "docs", "proc-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.AcquireLock(ctx, "docs", "proc-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.ReleaseLock(ctx, "docs", "proc-1"))
	ok, err = second.AcquireLock(ctx, "docs", "proc-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
