// internal/services/session_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Corphon/SceneForge/internal/engine"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/generation"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/utils"
)

const defaultGenerationTimeout = 2 * time.Minute

// errNoChange 变更函数返回它表示无需写入
var errNoChange = errors.New("no change")

// SessionService 会话流水线的唯一写入口。
// 每次变更都在会话锁内对副本进行，写入成功后才对外可见。
type SessionService struct {
	store             storage.SessionStore
	generator         generation.Generator
	locks             *LockManager
	events            EventPublisher
	clock             func() time.Time
	generationTimeout time.Duration
	metrics           *utils.APIMetrics
}

// Options SessionService 的可选参数
type Options struct {
	Events            EventPublisher
	Clock             func() time.Time
	GenerationTimeout time.Duration
	Metrics           *utils.APIMetrics
}

// NewSessionService 创建会话服务
func NewSessionService(store storage.SessionStore, generator generation.Generator, locks *LockManager, opts Options) *SessionService {
	if locks == nil {
		locks = NewLockManager()
	}
	s := &SessionService{
		store:             store,
		generator:         generator,
		locks:             locks,
		events:            opts.Events,
		clock:             opts.Clock,
		generationTimeout: opts.GenerationTimeout,
		metrics:           opts.Metrics,
	}
	if s.events == nil {
		s.events = noopPublisher{}
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.generationTimeout <= 0 {
		s.generationTimeout = defaultGenerationTimeout
	}
	return s
}

// SetEventPublisher 替换事件发布器（WebSocket hub 在服务之后创建）
func (s *SessionService) SetEventPublisher(events EventPublisher) {
	if events == nil {
		events = noopPublisher{}
	}
	s.events = events
}

// mutation 一次变更的工作副本和待发布事件
type mutation struct {
	sc      *models.SessionContext
	now     time.Time
	pending []SessionEvent
}

func (m *mutation) emit(eventType EventType, payload interface{}) {
	m.pending = append(m.pending, SessionEvent{
		Type:      eventType,
		SessionID: m.sc.SessionID,
		Payload:   payload,
		Timestamp: m.now,
	})
}

// emitInvalidation 只在确实有产物失效时发布
func (m *mutation) emitInvalidation(inv engine.Invalidation) {
	if inv.ChainInvalidated != "" || len(inv.ScenesInvalidated) > 0 {
		m.emit(EventArtifactsInvalidated, inv)
	}
}

// mutate 加锁 → 读取 → 在副本上执行 fn → 版本号加1并比较写入 → 发布事件
func (s *SessionService) mutate(ctx context.Context, sessionID string, fn func(m *mutation) error) (*models.SessionContext, error) {
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil).WithField("sessionId")
	}

	var result *models.SessionContext
	var published []SessionEvent
	err := s.locks.ExecuteWithSessionLock(ctx, sessionID, func() error {
		now := s.clock()
		base, err := s.load(ctx, sessionID, now)
		if err != nil {
			return err
		}
		work, err := base.Clone()
		if err != nil {
			return apperrors.NewPersistenceError("failed to copy session", err)
		}

		m := &mutation{sc: work, now: now}
		if err := fn(m); err != nil {
			if errors.Is(err, errNoChange) {
				result = base
				return nil
			}
			return err
		}

		work.SchemaVersion = models.SchemaVersion
		work.Version = base.Version + 1
		work.UpdatedAt = now
		if err := s.store.Put(ctx, work, base.Version); err != nil {
			return mapStoreError(err, sessionID)
		}

		for i := range m.pending {
			m.pending[i].Version = work.Version
		}
		result = work
		published = m.pending
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, event := range published {
		s.recordInvalidation(event)
		s.events.Publish(event)
	}
	return result, nil
}

func (s *SessionService) recordInvalidation(event SessionEvent) {
	if s.metrics == nil || event.Type != EventArtifactsInvalidated {
		return
	}
	if inv, ok := event.Payload.(engine.Invalidation); ok {
		cause := string(inv.BlockType)
		if cause == "" {
			cause = "pipeline"
		}
		s.metrics.RecordInvalidation(cause, len(inv.ScenesInvalidated), inv.ChainInvalidated != "")
	}
}

// load 读取会话，不存在时返回一个未保存的空会话
func (s *SessionService) load(ctx context.Context, sessionID string, now time.Time) (*models.SessionContext, error) {
	sc, err := s.store.Get(ctx, sessionID)
	if err == nil {
		return sc, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return models.NewSessionContext(sessionID, now), nil
	}
	return nil, mapStoreError(err, sessionID)
}

func mapStoreError(err error, sessionID string) error {
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return apperrors.NewVersionConflictError("session was modified concurrently, retry the request", err).WithField(sessionID)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFoundError("session not found", err).WithField(sessionID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return apperrors.NewPersistenceError("session storage failed", err).WithField(sessionID)
	}
}

// generate 调用生成服务，带独立的超时。返回前不修改会话。
func (s *SessionService) generate(ctx context.Context, req generation.Request) (json.RawMessage, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.generationTimeout)
	defer cancel()

	start := time.Now()
	data, err := s.generator.Generate(genCtx, req)
	if s.metrics != nil {
		s.metrics.RecordGeneration(string(req.Kind), err == nil, time.Since(start))
	}
	if err != nil {
		utils.GetLogger().Warn("generation failed", map[string]interface{}{
			"session_id": req.SessionID,
			"kind":       req.Kind,
			"error":      err.Error(),
		})
		if apperrors.TypeOf(err) != "" {
			return nil, err
		}
		return nil, apperrors.NewGenerationFailure(fmt.Sprintf("%s generation failed", req.Kind), err)
	}
	// 生成期间调用方可能已经放弃
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewGenerationFailure("request was cancelled during generation", err)
	}
	utils.GetLogger().Debug("generation finished", map[string]interface{}{
		"session_id":  req.SessionID,
		"kind":        req.Kind,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return data, nil
}

// GetSession 读取会话。从未写入过的会话返回空会话（版本为0）。
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil).WithField("sessionId")
	}
	return s.load(ctx, sessionID, s.clock())
}

// ListSessions 列出所有已保存的会话
func (s *SessionService) ListSessions(ctx context.Context) ([]storage.SessionSummary, error) {
	summaries, err := s.store.List(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to list sessions", err)
	}
	return summaries, nil
}

// SessionHealth 会话状态概览
type SessionHealth struct {
	SessionID       string                    `json:"sessionId"`
	Exists          bool                      `json:"exists"`
	Version         int64                     `json:"version"`
	HasBackground   bool                      `json:"hasBackground"`
	HasCharacters   bool                      `json:"hasCharacters"`
	HasMacroChains  bool                      `json:"hasMacroChains"`
	MacroChainCount int                       `json:"macroChainCount"`
	SceneCount      int                       `json:"sceneCount"`
	BlocksCount     int                       `json:"blocksCount"`
	Locks           map[models.BlockType]bool `json:"locks"`
	Meta            models.Meta               `json:"meta"`
	CreatedAt       *time.Time                `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time                `json:"updatedAt,omitempty"`
	Timestamp       time.Time                 `json:"timestamp"`
}

// Health 返回会话概览
func (s *SessionService) Health(ctx context.Context, sessionID string) (*SessionHealth, error) {
	sc, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	health := &SessionHealth{
		SessionID:       sessionID,
		Exists:          sc.Version > 0,
		Version:         sc.Version,
		HasBackground:   sc.Blocks.Has(models.BlockBackground),
		HasCharacters:   sc.Blocks.Has(models.BlockCharacters),
		HasMacroChains:  len(sc.MacroChains) > 0,
		MacroChainCount: len(sc.MacroChains),
		SceneCount:      len(sc.SceneDetails),
		BlocksCount:     len(sc.Blocks.Names()),
		Locks:           sc.Locks,
		Meta:            sc.Meta,
		Timestamp:       s.clock(),
	}
	if health.Exists {
		created, updated := sc.CreatedAt, sc.UpdatedAt
		health.CreatedAt = &created
		health.UpdatedAt = &updated
	}
	return health, nil
}

// ClearSession 清空会话内容。计数器和版本号保持单调，
// 清空前生成的快照不会因此重新变为有效。
func (s *SessionService) ClearSession(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	return s.mutate(ctx, sessionID, func(m *mutation) error {
		sc := m.sc
		if sc.Version == 0 {
			return errNoChange
		}
		sc.Blocks.Clear()
		sc.Locks = map[models.BlockType]bool{}
		sc.MacroChains = map[string]*models.MacroChain{}
		sc.CurrentChainID = ""
		sc.SceneDetails = map[string]*models.SceneDetail{}
		sc.CharacterSheets = nil
		sc.Meta.UpdatedAt = m.now
		m.emit(EventSessionCleared, nil)
		utils.GetLogger().Info("session cleared", map[string]interface{}{"session_id": sc.SessionID})
		return nil
	})
}

// EffectiveContext 计算序号 upTo 之前所有已锁定场景折叠后的上下文
func (s *SessionService) EffectiveContext(ctx context.Context, sessionID string, upTo int) (models.EffectiveContext, error) {
	if upTo < 1 {
		return models.EffectiveContext{}, apperrors.NewValidationError("upTo must be at least 1", nil).WithField("upTo")
	}
	sc, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return models.EffectiveContext{}, err
	}
	return engine.BuildEffectiveContext(sc, upTo), nil
}

// ArtifactStaleness 单个产物的过期情况
type ArtifactStaleness struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	engine.Staleness
}

// StalenessReport 会话中所有产物的过期报告
type StalenessReport struct {
	SessionID string              `json:"sessionId"`
	Meta      models.Meta         `json:"meta"`
	Chain     *ArtifactStaleness  `json:"chain,omitempty"`
	Scenes    []ArtifactStaleness `json:"scenes"`
}

// CheckStaleness 对当前宏观链和每个带快照的场景细节做过期检查
func (s *SessionService) CheckStaleness(ctx context.Context, sessionID string) (*StalenessReport, error) {
	sc, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	report := &StalenessReport{SessionID: sessionID, Meta: sc.Meta, Scenes: []ArtifactStaleness{}}
	if chain := sc.CurrentChain(); chain != nil {
		report.Chain = &ArtifactStaleness{
			ID:        chain.ChainID,
			Kind:      "macro_chain",
			Status:    string(chain.Status),
			Staleness: engine.CheckStaleness(chain.Uses, sc.Meta),
		}
	}
	for _, id := range sortedSceneIDs(sc) {
		detail := sc.SceneDetails[id]
		entry := ArtifactStaleness{ID: id, Kind: "scene_detail", Status: string(detail.Status)}
		if detail.Uses != nil {
			entry.Staleness = engine.CheckStaleness(*detail.Uses, sc.Meta)
		} else {
			entry.Staleness = engine.Staleness{Mismatches: []string{}}
		}
		report.Scenes = append(report.Scenes, entry)
	}
	return report, nil
}

// stalenessError 把过期结果转换为错误
func stalenessError(subject, id string, st engine.Staleness) error {
	return apperrors.NewStalenessError(fmt.Sprintf("%s is stale: %s", subject, st.Message), st.Mismatches).WithField(id)
}
