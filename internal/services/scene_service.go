// internal/services/scene_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Corphon/SceneForge/internal/engine"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/generation"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
)

// SceneChange 场景细节变更的结果
type SceneChange struct {
	Session      *models.SessionContext  `json:"session"`
	Detail       *models.SceneDetail     `json:"detail"`
	Invalidation *engine.Invalidation    `json:"invalidation,omitempty"`
	Delta        *models.Delta           `json:"delta,omitempty"`
	Affected     []models.AffectedScene  `json:"affectedScenes,omitempty"`
	Plan         models.RegenerationPlan `json:"regenerationPlan,omitempty"`
}

// EditPreview 场景修改的差异和重新生成计划，不写入
type EditPreview struct {
	SceneID  string                  `json:"sceneId"`
	Delta    models.Delta            `json:"delta"`
	Affected []models.AffectedScene  `json:"affectedScenes"`
	Plan     models.RegenerationPlan `json:"regenerationPlan"`
}

func sortedSceneIDs(sc *models.SessionContext) []string {
	ids := make([]string, 0, len(sc.SceneDetails))
	for id, detail := range sc.SceneDetails {
		if detail != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := sc.SceneDetails[ids[i]], sc.SceneDetails[ids[j]]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return ids[i] < ids[j]
	})
	return ids
}

// GenerateSceneDetail 生成一个场景细节。要求宏观链已锁定且未过期，
// 前一个序号的场景已锁定，所有已锁定的前序场景都未过期。
func (s *SessionService) GenerateSceneDetail(ctx context.Context, sessionID, sceneID string, hints json.RawMessage) (*SceneChange, error) {
	change := &SceneChange{}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		sc := m.sc
		chain := sc.CurrentChain()
		if chain == nil {
			return apperrors.NewLockConflictError("macro chain must be generated and locked before scene details")
		}
		if chain.Status != models.ChainLocked {
			return apperrors.NewLockConflictError("macro chain must be locked before generating scene details").WithField(chain.ChainID)
		}
		scene, ok := chain.SceneByID(sceneID)
		if !ok {
			return apperrors.NewNotFoundError("scene not found in macro chain", nil).WithField(sceneID)
		}
		if st := engine.CheckStaleness(chain.Uses, sc.Meta); st.Stale {
			return stalenessError("macro chain", chain.ChainID, st)
		}
		if check := engine.CanGenerateScene(sc, scene.Order); !check.OK {
			return apperrors.NewLockConflictError(check.Reason).WithField(sceneID)
		}
		previous := sc.SceneDetails[sceneID]
		if previous.IsLocked() {
			return apperrors.NewLockConflictError("scene is locked; unlock it before regenerating").WithField(sceneID)
		}
		for _, pred := range engine.LockedPredecessors(sc, scene.Order) {
			if pred.Uses == nil {
				continue
			}
			if st := engine.CheckStaleness(*pred.Uses, sc.Meta); st.Stale {
				return stalenessError("scene "+pred.SceneID, pred.SceneID, st)
			}
		}

		effective := engine.BuildEffectiveContext(sc, scene.Order)
		data, err := s.generate(ctx, generation.Request{
			Kind:      generation.KindSceneDetail,
			SessionID: sessionID,
			Context:   engine.ProjectForPrompt(sc),
			Chain:     chain.Scenes,
			Scene:     &scene,
			Effective: &effective,
			Hints:     hints,
		})
		if err != nil {
			return err
		}
		var detail models.SceneDetail
		if err := json.Unmarshal(data, &detail); err != nil {
			return apperrors.NewGenerationFailure("generated scene detail could not be decoded", err)
		}

		uses := sc.Meta.Snapshot()
		detail.SceneID = sceneID
		detail.Sequence = scene.Order
		if detail.Title == "" {
			detail.Title = scene.Title
		}
		if detail.Objective == "" {
			detail.Objective = scene.Objective
		}
		if detail.ContextOut == nil {
			detail.ContextOut = &models.EffectiveContext{}
		}
		detail.Status = models.SceneGenerated
		detail.Version = 1
		if previous != nil {
			detail.Version = previous.Version + 1
		}
		detail.Uses = &uses
		detail.InvalidationReason = ""
		detail.LockedAt = nil
		detail.LastUpdatedAt = m.now
		detail.Normalize()
		sc.SceneDetails[sceneID] = &detail
		change.Detail = &detail

		m.emit(EventSceneGenerated, map[string]interface{}{"sceneId": sceneID, "sequence": scene.Order})
		utils.GetLogger().Info("scene detail generated", map[string]interface{}{
			"session_id": sessionID,
			"scene_id":   sceneID,
			"sequence":   scene.Order,
			"version":    detail.Version,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	return change, nil
}

// applySceneEdit 把补丁叠加到已有细节的副本上。身份、状态和快照字段不可由补丁修改。
func applySceneEdit(old *models.SceneDetail, patch json.RawMessage) (*models.SceneDetail, error) {
	data, err := json.Marshal(old)
	if err != nil {
		return nil, apperrors.NewValidationError("scene detail could not be encoded", err)
	}
	var edited models.SceneDetail
	if err := json.Unmarshal(data, &edited); err != nil {
		return nil, apperrors.NewValidationError("scene detail could not be decoded", err)
	}
	if err := json.Unmarshal(patch, &edited); err != nil {
		return nil, apperrors.NewValidationError("invalid scene detail patch", err).WithField("data")
	}
	edited.SceneID = old.SceneID
	edited.Sequence = old.Sequence
	edited.Status = old.Status
	edited.Version = old.Version
	edited.Uses = old.Uses
	edited.InvalidationReason = old.InvalidationReason
	edited.LastUpdatedAt = old.LastUpdatedAt
	edited.LockedAt = old.LockedAt
	edited.Normalize()
	return &edited, nil
}

func knownSceneCount(sc *models.SessionContext) int {
	if chain := sc.CurrentChain(); chain != nil {
		return len(chain.Scenes)
	}
	count := 0
	for _, detail := range sc.SceneDetails {
		if detail != nil && detail.Sequence > count {
			count = detail.Sequence
		}
	}
	return count
}

func previewEdit(sc *models.SessionContext, sceneID string, patch json.RawMessage) (*models.SceneDetail, *models.SceneDetail, *EditPreview, error) {
	old, ok := sc.SceneDetails[sceneID]
	if !ok || old == nil {
		return nil, nil, nil, apperrors.NewNotFoundError("scene detail not found", nil).WithField(sceneID)
	}
	edited, err := applySceneEdit(old, patch)
	if err != nil {
		return nil, nil, nil, err
	}
	diff, plan := diffInChain(sc, old, edited)
	preview := &EditPreview{
		SceneID:  sceneID,
		Delta:    diff.Delta,
		Affected: diff.AffectedScenes,
		Plan:     plan,
	}
	return old, edited, preview, nil
}

func positionalSceneID(sequence int) string {
	return fmt.Sprintf("scene-%d", sequence)
}

// diffInChain 按场景在当前链中的位置计算下游窗口和计划，再把位置换回链中的场景ID。
// 链编辑后场景ID的数字不再代表顺序。
func diffInChain(sc *models.SessionContext, old, edited *models.SceneDetail) (engine.DiffResult, models.RegenerationPlan) {
	chain := sc.CurrentChain()
	if chain == nil {
		diff := engine.Diff(old, edited)
		return diff, engine.PlanRegeneration(diff.AffectedScenes, knownSceneCount(sc))
	}
	if old.Sequence < 1 || old.Sequence > len(chain.Scenes) {
		// 已脱离链的场景没有下游
		diff := engine.Diff(old, edited)
		diff.AffectedScenes = []models.AffectedScene{}
		return diff, models.RegenerationPlan{}
	}

	positioned := *edited
	positioned.SceneID = positionalSceneID(old.Sequence)
	diff := engine.Diff(old, &positioned)
	positionalPlan := engine.PlanRegeneration(diff.AffectedScenes, len(chain.Scenes))

	idAt := func(positional string) (string, bool) {
		n, ok := engine.SceneOrdinal(positional)
		if !ok || n < 1 || n > len(chain.Scenes) {
			return "", false
		}
		return chain.Scenes[n-1].ID, true
	}

	affected := make([]models.AffectedScene, 0, len(diff.AffectedScenes))
	for _, a := range diff.AffectedScenes {
		if id, ok := idAt(a.SceneID); ok {
			a.SceneID = id
			affected = append(affected, a)
		}
	}
	diff.AffectedScenes = affected

	plan := make(models.RegenerationPlan, 0, len(positionalPlan))
	for _, positional := range positionalPlan {
		if id, ok := idAt(positional); ok {
			plan = append(plan, id)
		}
	}
	return diff, plan
}

// PreviewSceneEdit 计算修改的差异和重新生成计划，不写入
func (s *SessionService) PreviewSceneEdit(ctx context.Context, sessionID, sceneID string, patch json.RawMessage) (*EditPreview, error) {
	sc, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	_, _, preview, err := previewEdit(sc, sceneID, patch)
	return preview, err
}

// EditSceneDetail 手动修改场景细节（已锁定的场景也可以修改，修改后变为 Edited）。
// 重新生成计划中已存在的下游场景标记为需要重新生成。
func (s *SessionService) EditSceneDetail(ctx context.Context, sessionID, sceneID string, patch json.RawMessage) (*SceneChange, error) {
	change := &SceneChange{}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		sc := m.sc
		old, edited, preview, err := previewEdit(sc, sceneID, patch)
		if err != nil {
			return err
		}
		edited.Status = models.SceneEdited
		edited.Version = old.Version + 1
		edited.InvalidationReason = ""
		edited.LockedAt = nil
		edited.LastUpdatedAt = m.now
		sc.SceneDetails[sceneID] = edited

		reasons := make(map[string]string, len(preview.Affected))
		for _, a := range preview.Affected {
			if _, seen := reasons[a.SceneID]; !seen {
				reasons[a.SceneID] = a.Reason
			}
		}
		inv := engine.Invalidation{ScenesInvalidated: []string{}}
		for _, id := range preview.Plan {
			detail, ok := sc.SceneDetails[id]
			if !ok || detail == nil {
				continue
			}
			detail.Status = models.SceneNeedsRegen
			detail.InvalidationReason = reasons[id]
			detail.LockedAt = nil
			detail.LastUpdatedAt = m.now
			inv.ScenesInvalidated = append(inv.ScenesInvalidated, id)
		}
		inv.Triggered = len(inv.ScenesInvalidated) > 0

		delta := preview.Delta
		change.Detail = edited
		change.Delta = &delta
		change.Affected = preview.Affected
		change.Plan = preview.Plan
		change.Invalidation = &inv

		m.emit(EventSceneEdited, map[string]interface{}{
			"sceneId":          sceneID,
			"delta":            preview.Delta,
			"regenerationPlan": preview.Plan,
		})
		m.emitInvalidation(inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	return change, nil
}

// LockScene 锁定场景细节，过期的细节不能锁定
func (s *SessionService) LockScene(ctx context.Context, sessionID, sceneID string) (*SceneChange, error) {
	change := &SceneChange{}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		detail, ok := m.sc.SceneDetails[sceneID]
		if !ok || detail == nil {
			return apperrors.NewNotFoundError("scene detail not found", nil).WithField(sceneID)
		}
		if check := engine.CanLockScene(m.sc, sceneID); !check.OK {
			return apperrors.NewLockConflictError(check.Reason).WithField(sceneID)
		}
		if detail.Uses != nil {
			if st := engine.CheckStaleness(*detail.Uses, m.sc.Meta); st.Stale {
				return stalenessError("scene "+sceneID, sceneID, st)
			}
		}
		now := m.now
		detail.Status = models.SceneLocked
		detail.LockedAt = &now
		detail.InvalidationReason = ""
		detail.LastUpdatedAt = now
		detail.Version++
		change.Detail = detail
		m.emit(EventSceneLocked, map[string]interface{}{"sceneId": sceneID, "sequence": detail.Sequence})
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	return change, nil
}

// UnlockScene 解锁场景细节。该场景和序号更大的已锁定场景都需要重新生成。
func (s *SessionService) UnlockScene(ctx context.Context, sessionID, sceneID string) (*SceneChange, error) {
	change := &SceneChange{}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		detail, ok := m.sc.SceneDetails[sceneID]
		if !ok || detail == nil {
			return apperrors.NewNotFoundError("scene detail not found", nil).WithField(sceneID)
		}
		if !detail.IsLocked() {
			return apperrors.NewLockConflictError("scene is not locked").WithField(sceneID)
		}
		detail.Status = models.SceneNeedsRegen
		detail.InvalidationReason = "unlocked for editing"
		detail.LockedAt = nil
		detail.LastUpdatedAt = m.now
		detail.Version++

		inv := engine.OnSceneUnlocked(m.sc, detail.Sequence, m.now)
		change.Detail = detail
		change.Invalidation = &inv
		m.emit(EventSceneUnlocked, map[string]interface{}{"sceneId": sceneID, "sequence": detail.Sequence})
		m.emitInvalidation(inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	return change, nil
}
