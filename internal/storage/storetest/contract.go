// Package storetest holds behaviour checks shared by every SessionStore backend.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
)

// Run exercises a fresh store returned by open.
func Run(t *testing.T, open func(t *testing.T) storage.SessionStore) {
	t.Helper()
	now := time.Date(2026, 2, 21, 23, 30, 0, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		store := open(t)
		_, err := store.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		store := open(t)
		sc := models.NewSessionContext("alpha", now)
		require.NoError(t, sc.Blocks.Replace(models.BlockBackground, json.RawMessage(`{"premise":"p"}`)))
		sc.Locks[models.BlockBackground] = true
		sc.Meta.BackgroundV = 1
		sc.Version = 1

		require.NoError(t, store.Put(context.Background(), sc, 0))

		got, err := store.Get(context.Background(), "alpha")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, models.SchemaVersion, got.SchemaVersion)
		assert.Equal(t, "p", got.Blocks.Background.Premise)
		assert.True(t, got.Locks[models.BlockBackground])
		assert.Equal(t, int64(1), got.Meta.BackgroundV)

		got.Blocks.Background.Premise = "changed"
		again, err := store.Get(context.Background(), "alpha")
		require.NoError(t, err)
		assert.Equal(t, "p", again.Blocks.Background.Premise)
	})

	t.Run("stale base version is rejected", func(t *testing.T) {
		store := open(t)
		sc := models.NewSessionContext("beta", now)
		sc.Version = 1
		require.NoError(t, store.Put(context.Background(), sc, 0))

		sc.Version = 2
		require.NoError(t, store.Put(context.Background(), sc, 1))

		stale := models.NewSessionContext("beta", now)
		stale.Version = 2
		assert.ErrorIs(t, store.Put(context.Background(), stale, 1), storage.ErrVersionConflict)

		fresh := models.NewSessionContext("beta", now)
		fresh.Version = 1
		assert.ErrorIs(t, store.Put(context.Background(), fresh, 0), storage.ErrVersionConflict)

		got, err := store.Get(context.Background(), "beta")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("version must advance", func(t *testing.T) {
		store := open(t)
		sc := models.NewSessionContext("gamma", now)
		assert.Error(t, store.Put(context.Background(), sc, 0))
	})

	t.Run("concurrent writers from the same base", func(t *testing.T) {
		store := open(t)
		base := models.NewSessionContext("delta", now)
		base.Version = 1
		require.NoError(t, store.Put(context.Background(), base, 0))

		const writers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			success  int
			conflict int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sc := models.NewSessionContext("delta", now)
				sc.Version = 2
				err := store.Put(context.Background(), sc, 1)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					success++
				} else if assert.ErrorIs(t, err, storage.ErrVersionConflict) {
					conflict++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, success)
		assert.Equal(t, writers-1, conflict)
	})

	t.Run("list", func(t *testing.T) {
		store := open(t)
		for _, id := range []string{"zeta", "eta"} {
			sc := models.NewSessionContext(id, now)
			sc.Version = 3
			require.NoError(t, store.Put(context.Background(), sc, 0))
		}
		list, err := store.List(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "eta", list[0].SessionID)
		assert.Equal(t, "zeta", list[1].SessionID)
		assert.Equal(t, int64(3), list[0].Version)
		assert.True(t, list[0].UpdatedAt.Equal(now))
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sc := models.NewSessionContext("theta", now)
		sc.Version = 1
		assert.Error(t, store.Put(ctx, sc, 0))
		_, err := store.Get(context.Background(), "theta")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

// RunProjects exercises the project registry of a fresh store returned by open.
func RunProjects(t *testing.T, open func(t *testing.T) storage.ProjectStore) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2026, 2, 21, 23, 30, 0, 0, time.UTC)

	t.Run("empty registry", func(t *testing.T) {
		store := open(t)
		list, err := store.ListProjects(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = store.GetProject(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrProjectNotFound)
		_, err = store.DeleteProject(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrProjectNotFound)
	})

	t.Run("save get list delete", func(t *testing.T) {
		store := open(t)
		second := models.Project{ID: "project_2", Title: "Harbor", CreatedAt: created.Add(time.Minute), UpdatedAt: created.Add(time.Minute)}
		first := models.Project{ID: "project_1", Title: "Vault", CreatedAt: created, UpdatedAt: created}
		require.NoError(t, store.SaveProject(ctx, &second))
		require.NoError(t, store.SaveProject(ctx, &first))

		got, err := store.GetProject(ctx, "project_1")
		require.NoError(t, err)
		assert.Equal(t, "Vault", got.Title)
		assert.True(t, got.CreatedAt.Equal(created))

		list, err := store.ListProjects(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "project_1", list[0].ID)
		assert.Equal(t, "project_2", list[1].ID)

		first.Title = "Sunken Vault"
		first.UpdatedAt = created.Add(time.Hour)
		require.NoError(t, store.SaveProject(ctx, &first))
		got, err = store.GetProject(ctx, "project_1")
		require.NoError(t, err)
		assert.Equal(t, "Sunken Vault", got.Title)
		assert.True(t, got.UpdatedAt.Equal(created.Add(time.Hour)))

		deleted, err := store.DeleteProject(ctx, "project_2")
		require.NoError(t, err)
		assert.Equal(t, "Harbor", deleted.Title)
		list, err = store.ListProjects(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})

	t.Run("invalid id", func(t *testing.T) {
		store := open(t)
		assert.Error(t, store.SaveProject(ctx, &models.Project{ID: "../escape", Title: "x"}))
		assert.Error(t, store.SaveProject(ctx, nil))
	})
}
