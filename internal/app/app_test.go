package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/generation"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/services"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:              "0",
		DataDir:           filepath.Join(dir, "data"),
		LogDir:            filepath.Join(dir, "logs"),
		LogLevel:          "info",
		StoreDriver:       driver,
		SQLitePath:        filepath.Join(dir, "data", "sessions.db"),
		LLMProvider:       config.ProviderOffline,
		GenerationTimeout: time.Second,
		OfflineScenes:     3,
	}
}

func TestOpenStoreDrivers(t *testing.T) {
	for _, driver := range []string{config.StoreMemory, config.StoreFile, config.StoreSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, driver)
			require.NoError(t, cfg.EnsureDirs())

			store, err := OpenStore(cfg)
			require.NoError(t, err)
			defer store.Close()

			ctx := context.Background()
			sc := models.NewSessionContext("s1", time.Now().UTC())
			sc.Version = 1
			require.NoError(t, store.Put(ctx, sc, 0))

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Version)

			project, err := services.NewProjectService(store, nil).CreateProject(ctx, "Drowned City")
			require.NoError(t, err)
			projects, err := store.ListProjects(ctx)
			require.NoError(t, err)
			require.Len(t, projects, 1)
			assert.Equal(t, project.ID, projects[0].ID)
		})
	}

	_, err := OpenStore(&config.Config{StoreDriver: "redis"})
	assert.Error(t, err)
}

func TestNewGenerator(t *testing.T) {
	gen, err := NewGenerator(testConfig(t, config.StoreMemory))
	require.NoError(t, err)
	assert.IsType(t, &generation.OfflineGenerator{}, gen)

	cfg := testConfig(t, config.StoreMemory)
	cfg.LLMProvider = "no-such-provider"
	cfg.LLMAPIKey = "k"
	_, err = NewGenerator(cfg)
	assert.Error(t, err)

	cfg.LLMProvider = "openai"
	gen, err = NewGenerator(cfg)
	require.NoError(t, err)
	assert.IsType(t, &generation.LLMGenerator{}, gen)
}

func TestNewServesHealth(t *testing.T) {
	a, err := New(testConfig(t, config.StoreMemory))
	require.NoError(t, err)
	defer a.Close()

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(t, config.StoreMemory))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
