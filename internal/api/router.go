// internal/api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RouterOptions 路由配置
type RouterOptions struct {
	DebugMode          bool
	RateLimitPerMinute int // 生成接口每个会话每分钟上限，0 表示不限制
	RateLimiter        *RateLimiter
}

// NewRouter 配置HTTP路由
func NewRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(requestLogMiddleware(handler.Metrics))
	r.Use(corsMiddleware())
	r.Use(bodyLimitMiddleware(maxBodyBytes))

	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter()
	}
	generationLimit := RateLimitBySession(limiter, handler.Response, opts.RateLimitPerMinute, time.Minute)

	r.GET("/health", handler.Health)

	// WebSocket 事件流
	r.GET("/ws/sessions/:id", handler.SessionEvents)

	// ===============================
	// API 路由
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/sessions", handler.ListSessions)

		// 项目
		api.POST("/projects", handler.CreateProject)
		api.GET("/projects", handler.ListProjects)
		api.GET("/projects/:projectId", handler.GetProject)
		api.DELETE("/projects/:projectId", handler.DeleteProject)

		session := api.Group("/sessions/:id")
		{
			session.GET("", handler.GetSession)
			session.GET("/health", handler.SessionHealth)
			session.GET("/staleness", handler.Staleness)
			session.GET("/context", handler.EffectiveContext)
			session.GET("/export", handler.ExportSession)
			session.POST("/clear", handler.ClearSession)

			// 块
			session.POST("/blocks/:type", handler.AppendBlock)
			session.POST("/blocks/:type/lock", handler.LockBlock)
			session.POST("/blocks/:type/unlock", handler.UnlockBlock)
			session.POST("/background/generate", generationLimit, handler.GenerateBackground)

			// 角色
			session.POST("/characters/generate", generationLimit, handler.GenerateCharacters)
			session.PUT("/characters/:charId", handler.UpsertCharacter)
			session.DELETE("/characters/:charId", handler.DeleteCharacter)

			// 角色卡
			session.GET("/character-sheets", handler.ListCharacterSheets)
			session.PUT("/character-sheets/:sheetId", handler.SaveCharacterSheet)
			session.DELETE("/character-sheets/:sheetId", handler.DeleteCharacterSheet)

			// 宏观链
			session.POST("/chain/generate", generationLimit, handler.GenerateMacroChain)
			session.PATCH("/chain", handler.EditChain)
			session.POST("/chain/lock", handler.LockChain)
			session.POST("/chain/unlock", handler.UnlockChain)

			// 场景细节
			session.POST("/scenes/:sceneId/generate", generationLimit, handler.GenerateSceneDetail)
			session.PUT("/scenes/:sceneId", handler.EditSceneDetail)
			session.POST("/scenes/:sceneId/preview", handler.PreviewSceneEdit)
			session.POST("/scenes/:sceneId/lock", handler.LockScene)
			session.POST("/scenes/:sceneId/unlock", handler.UnlockScene)
		}
	}

	return r
}
