// internal/api/handlers.go
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneForge/internal/engine"
	"github.com/Corphon/SceneForge/internal/services"
	"github.com/Corphon/SceneForge/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	Sessions *services.SessionService // 会话流水线服务
	Projects *services.ProjectService // 项目登记表
	Exports  *services.ExportService  // 会话导出
	Hub      *Hub                     // WebSocket 事件分发
	Response *ResponseHelper          // 响应助手
	Metrics  *utils.APIMetrics
	started  time.Time
}

// NewHandler 创建API处理器
func NewHandler(sessions *services.SessionService, projects *services.ProjectService, hub *Hub, metrics *utils.APIMetrics) *Handler {
	if hub == nil {
		hub = NewHub()
	}
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	return &Handler{
		Sessions: sessions,
		Projects: projects,
		Exports:  services.NewExportService(sessions, ""),
		Hub:      hub,
		Response: NewResponseHelper(metrics),
		Metrics:  metrics,
		started:  time.Now(),
	}
}

// ChainEditRequest PATCH 宏观链的请求体
type ChainEditRequest struct {
	Edits []services.ChainEdit `json:"edits"`
}

// readJSONBody 读取请求体。required 为 false 时空请求体返回 nil。
func (h *Handler) readJSONBody(c *gin.Context, required bool) (json.RawMessage, bool) {
	if c.Request.Body == nil {
		if required {
			h.Response.BadRequest(c, "request body is required")
			return nil, false
		}
		return nil, true
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorPayloadTooLarge, "request body too large")
			return nil, false
		}
		h.Response.BadRequest(c, "failed to read request body")
		return nil, false
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		if required {
			h.Response.BadRequest(c, "request body is required")
			return nil, false
		}
		return nil, true
	}
	if !json.Valid(data) {
		h.Response.BadRequest(c, "request body is not valid JSON")
		return nil, false
	}
	return json.RawMessage(data), true
}

// ===============================
// 会话
// ===============================

// ListSessions 列出已保存的会话
func (h *Handler) ListSessions(c *gin.Context) {
	summaries, err := h.Sessions.ListSessions(c.Request.Context())
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, summaries)
}

// GetSession 获取会话，带 ETag，If-None-Match 命中时返回 304
func (h *Handler) GetSession(c *gin.Context) {
	sc, err := h.Sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	digest, err := engine.SessionDigest(sc)
	if err != nil {
		h.Response.InternalError(c, "failed to compute session digest")
		return
	}
	etag := `"` + digest + `"`
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.AbortWithStatus(http.StatusNotModified)
		return
	}
	h.Response.Success(c, sc)
}

// SessionHealth 会话概览
func (h *Handler) SessionHealth(c *gin.Context) {
	health, err := h.Sessions.Health(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, health)
}

// ClearSession 清空会话内容
func (h *Handler) ClearSession(c *gin.Context) {
	sc, err := h.Sessions.ClearSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, sc, "session cleared")
}

// Staleness 所有产物的过期报告
func (h *Handler) Staleness(c *gin.Context) {
	report, err := h.Sessions.CheckStaleness(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, report)
}

// EffectiveContext 预览序号 upTo 之前的有效上下文
func (h *Handler) EffectiveContext(c *gin.Context) {
	upTo, err := strconv.Atoi(c.Query("upTo"))
	if err != nil {
		h.Response.BadRequest(c, "upTo must be an integer")
		return
	}
	ec, err := h.Sessions.EffectiveContext(c.Request.Context(), c.Param("id"), upTo)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, ec)
}

// ExportSession 导出会话文档，format 为 json / markdown / txt
func (h *Handler) ExportSession(c *gin.Context) {
	result, err := h.Exports.ExportSession(c.Request.Context(), c.Param("id"), c.DefaultQuery("format", services.ExportMarkdown))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, result)
}

// ===============================
// 块
// ===============================

// AppendBlock 追加块数据
func (h *Handler) AppendBlock(c *gin.Context) {
	bt, err := services.ParseBlockName(c.Param("type"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	payload, ok := h.readJSONBody(c, true)
	if !ok {
		return
	}
	change, err := h.Sessions.AppendBlock(c.Request.Context(), c.Param("id"), bt, payload)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// LockBlock 锁定块
func (h *Handler) LockBlock(c *gin.Context) {
	bt, err := services.ParseBlockName(c.Param("type"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	sc, err := h.Sessions.LockBlock(c.Request.Context(), c.Param("id"), bt)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, sc)
}

// UnlockBlock 解锁块
func (h *Handler) UnlockBlock(c *gin.Context) {
	bt, err := services.ParseBlockName(c.Param("type"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	sc, err := h.Sessions.UnlockBlock(c.Request.Context(), c.Param("id"), bt)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, sc)
}

// GenerateBackground 生成故事背景
func (h *Handler) GenerateBackground(c *gin.Context) {
	hints, ok := h.readJSONBody(c, false)
	if !ok {
		return
	}
	change, err := h.Sessions.GenerateBackground(c.Request.Context(), c.Param("id"), hints)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// ===============================
// 角色
// ===============================

// GenerateCharacters 基于已锁定的背景生成角色
func (h *Handler) GenerateCharacters(c *gin.Context) {
	hints, ok := h.readJSONBody(c, false)
	if !ok {
		return
	}
	change, err := h.Sessions.GenerateCharacters(c.Request.Context(), c.Param("id"), hints)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// UpsertCharacter 新增或替换一个角色
func (h *Handler) UpsertCharacter(c *gin.Context) {
	payload, ok := h.readJSONBody(c, true)
	if !ok {
		return
	}
	change, err := h.Sessions.UpsertCharacter(c.Request.Context(), c.Param("id"), c.Param("charId"), payload)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// DeleteCharacter 删除角色
func (h *Handler) DeleteCharacter(c *gin.Context) {
	change, err := h.Sessions.DeleteCharacter(c.Request.Context(), c.Param("id"), c.Param("charId"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// ===============================
// 角色卡
// ===============================

// ListCharacterSheets 列出会话中的角色卡
func (h *Handler) ListCharacterSheets(c *gin.Context) {
	sheets, err := h.Sessions.ListCharacterSheets(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, sheets)
}

// SaveCharacterSheet 新增或替换角色卡，请求体为角色卡本身
func (h *Handler) SaveCharacterSheet(c *gin.Context) {
	payload, ok := h.readJSONBody(c, true)
	if !ok {
		return
	}
	sheet, err := h.Sessions.SaveCharacterSheet(c.Request.Context(), c.Param("id"), c.Param("sheetId"), payload)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, sheet)
}

// DeleteCharacterSheet 删除角色卡
func (h *Handler) DeleteCharacterSheet(c *gin.Context) {
	if _, err := h.Sessions.DeleteCharacterSheet(c.Request.Context(), c.Param("id"), c.Param("sheetId")); err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"sheetId": c.Param("sheetId")}, "character sheet deleted")
}

// ===============================
// 宏观链
// ===============================

// GenerateMacroChain 生成宏观场景链
func (h *Handler) GenerateMacroChain(c *gin.Context) {
	hints, ok := h.readJSONBody(c, false)
	if !ok {
		return
	}
	change, err := h.Sessions.GenerateMacroChain(c.Request.Context(), c.Param("id"), hints)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// EditChain 批量编辑当前宏观链的场景
func (h *Handler) EditChain(c *gin.Context) {
	body, ok := h.readJSONBody(c, true)
	if !ok {
		return
	}
	var req ChainEditRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.Response.BadRequest(c, "invalid chain edit request", err.Error())
		return
	}
	change, err := h.Sessions.EditChainScenes(c.Request.Context(), c.Param("id"), req.Edits)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// LockChain 锁定当前宏观链
func (h *Handler) LockChain(c *gin.Context) {
	change, err := h.Sessions.LockChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// UnlockChain 解锁当前宏观链
func (h *Handler) UnlockChain(c *gin.Context) {
	change, err := h.Sessions.UnlockChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// ===============================
// 场景细节
// ===============================

// GenerateSceneDetail 生成场景细节
func (h *Handler) GenerateSceneDetail(c *gin.Context) {
	hints, ok := h.readJSONBody(c, false)
	if !ok {
		return
	}
	change, err := h.Sessions.GenerateSceneDetail(c.Request.Context(), c.Param("id"), c.Param("sceneId"), hints)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// EditSceneDetail 修改场景细节，返回差异和重新生成计划
func (h *Handler) EditSceneDetail(c *gin.Context) {
	patch, ok := h.readJSONBody(c, true)
	if !ok {
		return
	}
	change, err := h.Sessions.EditSceneDetail(c.Request.Context(), c.Param("id"), c.Param("sceneId"), patch)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// PreviewSceneEdit 只计算差异和计划，不写入
func (h *Handler) PreviewSceneEdit(c *gin.Context) {
	patch, ok := h.readJSONBody(c, true)
	if !ok {
		return
	}
	preview, err := h.Sessions.PreviewSceneEdit(c.Request.Context(), c.Param("id"), c.Param("sceneId"), patch)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, preview)
}

// LockScene 锁定场景细节
func (h *Handler) LockScene(c *gin.Context) {
	change, err := h.Sessions.LockScene(c.Request.Context(), c.Param("id"), c.Param("sceneId"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// UnlockScene 解锁场景细节
func (h *Handler) UnlockScene(c *gin.Context) {
	change, err := h.Sessions.UnlockScene(c.Request.Context(), c.Param("id"), c.Param("sceneId"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, change)
}

// ===============================
// 系统
// ===============================

// Health 服务健康检查
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":    "ok",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"websocket": h.Hub.GetStatus(),
	})
}

// GetMetrics 进程内指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"metrics":   h.Metrics.Collector().GetMetrics(),
		"websocket": h.Hub.GetStatus(),
	})
}

// ===============================
// 项目
// ===============================

// CreateProjectRequest 创建项目的请求体
type CreateProjectRequest struct {
	Title string `json:"title"`
}

// CreateProject 创建项目
func (h *Handler) CreateProject(c *gin.Context) {
	payload, ok := h.readJSONBody(c, true)
	if !ok {
		return
	}
	var req CreateProjectRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.Response.BadRequest(c, "invalid project request", err.Error())
		return
	}
	project, err := h.Projects.CreateProject(c.Request.Context(), req.Title)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, project, "project created")
}

// ListProjects 列出所有项目
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.Projects.ListProjects(c.Request.Context())
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, projects)
}

// GetProject 获取单个项目
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.Projects.GetProject(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, project)
}

// DeleteProject 删除项目并返回被删除的条目
func (h *Handler) DeleteProject(c *gin.Context) {
	project, err := h.Projects.DeleteProject(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, project, "project deleted")
}
