package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.SessionStore {
		return openTempStore(t)
	})
}

func TestProjectContract(t *testing.T) {
	storetest.RunProjects(t, func(t *testing.T) storage.ProjectStore {
		return openTempStore(t)
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sc := models.NewSessionContext("kept", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	sc.Version = 1
	if err := first.Put(context.Background(), sc, 0); err != nil {
		t.Fatalf("put session: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer second.Close()
	got, err := second.Get(context.Background(), "kept")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("version = %d, want 1", got.Version)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
