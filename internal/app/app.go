// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/SceneForge/internal/api"
	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/generation"
	"github.com/Corphon/SceneForge/internal/llm"
	_ "github.com/Corphon/SceneForge/internal/llm/providers/openaicompat"
	"github.com/Corphon/SceneForge/internal/services"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/storage/sqlite"
	"github.com/Corphon/SceneForge/internal/utils"
)

const shutdownTimeout = 30 * time.Second

// App 组装好的服务进程
type App struct {
	Config   *config.Config
	Store    storage.Backend
	Sessions *services.SessionService
	Projects *services.ProjectService
	Hub      *api.Hub
	Handler  http.Handler
	Metrics  *utils.APIMetrics

	locks   *services.LockManager
	limiter *api.RateLimiter
}

// OpenStore 按配置打开会话和项目存储
func OpenStore(cfg *config.Config) (storage.Backend, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return storage.NewMemoryStore(), nil
	case config.StoreFile:
		return storage.NewFileStorage(filepath.Join(cfg.DataDir, "sessions"))
	case config.StoreSQLite:
		return sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewGenerator 按配置创建内容生成器
func NewGenerator(cfg *config.Config) (generation.Generator, error) {
	validator, err := generation.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("load generation schemas: %w", err)
	}
	if cfg.LLMProvider == config.ProviderOffline {
		return generation.NewOfflineGenerator(validator, cfg.OfflineScenes), nil
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("init llm provider %q: %w", cfg.LLMProvider, err)
	}
	return generation.NewLLMGenerator(provider, validator, generation.Options{Model: cfg.LLMModel}), nil
}

// New 按配置组装所有组件，不启动任何监听
func New(cfg *config.Config) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	generator, err := NewGenerator(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	metrics := utils.NewAPIMetrics()
	hub := api.NewHub()
	locks := services.NewLockManager()
	sessions := services.NewSessionService(store, generator, locks, services.Options{
		Events:            hub,
		GenerationTimeout: cfg.GenerationTimeout,
		Metrics:           metrics,
	})

	projects := services.NewProjectService(store, nil)

	limiter := api.NewRateLimiter()
	handler := api.NewHandler(sessions, projects, hub, metrics)
	handler.Exports = services.NewExportService(sessions, filepath.Join(cfg.DataDir, "exports"))
	router := api.NewRouter(handler, api.RouterOptions{
		DebugMode:          cfg.DebugMode,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateLimiter:        limiter,
	})

	utils.GetLogger().Info("application initialized", map[string]interface{}{
		"store":     cfg.StoreDriver,
		"provider":  cfg.LLMProvider,
		"providers": llm.ListProviders(),
	})

	return &App{
		Config:   cfg,
		Store:    store,
		Sessions: sessions,
		Projects: projects,
		Hub:      hub,
		Handler:  router,
		Metrics:  metrics,
		locks:    locks,
		limiter:  limiter,
	}, nil
}

// Run 启动HTTP服务、WebSocket hub 和指标上报，ctx 结束后优雅关闭
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		utils.GetLogger().Info("server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.Hub.Run(gctx)
		return nil
	})

	a.Metrics.StartMetricsCollection(gctx, 5*time.Minute)

	g.Go(func() error {
		<-gctx.Done()
		utils.GetLogger().Info("shutting down server", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close 释放存储和后台协程
func (a *App) Close() error {
	a.limiter.Stop()
	a.locks.Stop()
	return a.Store.Close()
}
