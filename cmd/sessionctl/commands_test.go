package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
)

func seedFileStore(t *testing.T) string {
	t.Helper()
	t.Setenv("LLM_PROVIDER", "offline")
	t.Setenv("STORE_DRIVER", "file")

	dataDir := t.TempDir()
	store, err := storage.NewFileStorage(filepath.Join(dataDir, "sessions"))
	require.NoError(t, err)
	defer store.Close()

	sc := models.NewSessionContext("s1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	sc.Version = 1
	sc.Meta.BackgroundV = 2
	require.NoError(t, store.Put(context.Background(), sc, 0))
	return dataDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestShowAndList(t *testing.T) {
	dataDir := seedFileStore(t)

	out, err := run(t, "show", "s1", "--driver", "file", "--data-dir", dataDir)
	require.NoError(t, err)
	var sc models.SessionContext
	require.NoError(t, json.Unmarshal([]byte(out), &sc))
	assert.Equal(t, "s1", sc.SessionID)
	assert.Equal(t, int64(2), sc.Meta.BackgroundV)

	out, err = run(t, "list", "--driver", "file", "--data-dir", dataDir)
	require.NoError(t, err)
	var list []storage.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].SessionID)
}

func TestStaleReportsEmptySession(t *testing.T) {
	dataDir := seedFileStore(t)

	out, err := run(t, "stale", "s1", "--driver", "file", "--data-dir", dataDir)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "s1", report["sessionId"])
	assert.Empty(t, report["scenes"])
}

func TestContextArgs(t *testing.T) {
	dataDir := seedFileStore(t)

	_, err := run(t, "context", "s1", "abc", "--driver", "file", "--data-dir", dataDir)
	assert.Error(t, err)

	_, err = run(t, "context", "s1", "0", "--driver", "file", "--data-dir", dataDir)
	assert.Error(t, err)

	out, err := run(t, "context", "s1", "3", "--driver", "file", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, `"keyEvents": []`)
}

func TestPlanRequiresExistingScene(t *testing.T) {
	dataDir := seedFileStore(t)
	edit := filepath.Join(t.TempDir(), "edit.json")
	require.NoError(t, os.WriteFile(edit, []byte(`{"title":"x"}`), 0644))

	_, err := run(t, "plan", "s1", "scene-1", edit, "--driver", "file", "--data-dir", dataDir)
	assert.Error(t, err)

	_, err = run(t, "plan", "s1", "scene-1", filepath.Join(dataDir, "missing.json"), "--driver", "file", "--data-dir", dataDir)
	assert.Error(t, err)
}

func TestProjectsListsRegistry(t *testing.T) {
	dataDir := seedFileStore(t)
	store, err := storage.NewFileStorage(filepath.Join(dataDir, "sessions"))
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveProject(context.Background(), &models.Project{
		ID: "project_1", Title: "Drowned City", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.Close())

	out, err := run(t, "projects", "--driver", "file", "--data-dir", dataDir)
	require.NoError(t, err)
	var projects []models.Project
	require.NoError(t, json.Unmarshal([]byte(out), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "Drowned City", projects[0].Title)
}
