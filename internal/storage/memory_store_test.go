package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/storage/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.SessionStore {
		return storage.NewMemoryStore()
	})
}

func TestMemoryStoreProjects(t *testing.T) {
	storetest.RunProjects(t, func(t *testing.T) storage.ProjectStore {
		return storage.NewMemoryStore()
	})
}

func TestFileStorageProjects(t *testing.T) {
	storetest.RunProjects(t, func(t *testing.T) storage.ProjectStore {
		store, err := storage.NewFileStorage(filepath.Join(t.TempDir(), "data"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestFileStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.SessionStore {
		store, err := storage.NewFileStorage(filepath.Join(t.TempDir(), "data"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestFileStorageSeesWritesFromAnotherStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	first, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	second, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	sc := models.NewSessionContext("s1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	sc.Version = 1
	require.NoError(t, first.Put(ctx, sc, 0))

	cached, err := first.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Version)

	external, err := second.Get(ctx, "s1")
	require.NoError(t, err)
	external.Version = 2
	external.CurrentChainID = "chain-written-elsewhere"
	require.NoError(t, second.Put(ctx, external, 1))

	stale := cached
	stale.Version = 2
	assert.ErrorIs(t, first.Put(ctx, stale, 1), storage.ErrVersionConflict)

	fresh, err := first.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
	assert.Equal(t, "chain-written-elsewhere", fresh.CurrentChainID)
}
