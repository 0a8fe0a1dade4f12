// internal/services/chain_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/SceneForge/internal/engine"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/generation"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
)

// ChainEditOp 宏观链编辑操作
type ChainEditOp string

const (
	ChainOpUpdate  ChainEditOp = "update"
	ChainOpInsert  ChainEditOp = "insert"
	ChainOpDelete  ChainEditOp = "delete"
	ChainOpReorder ChainEditOp = "reorder"
)

// ChainEdit 一次编辑。Position 为插入位置（从1开始，0表示末尾），
// Order 为 reorder 的完整场景ID顺序。
type ChainEdit struct {
	Op        ChainEditOp    `json:"op"`
	SceneID   string         `json:"sceneId,omitempty"`
	Title     *string        `json:"title,omitempty"`
	Objective *string        `json:"objective,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Position  int            `json:"position,omitempty"`
	Order     []string       `json:"order,omitempty"`
}

// ChainChange 宏观链变更的结果
type ChainChange struct {
	Session      *models.SessionContext `json:"session"`
	Chain        *models.MacroChain     `json:"chain"`
	Invalidation engine.Invalidation    `json:"invalidation"`
	Detached     []string               `json:"detachedScenes,omitempty"`
}

// GenerateMacroChain 基于已锁定的背景生成新的宏观链并设为当前链。
// 替换已有链时快照计数器加1，旧链的场景细节全部失效。
func (s *SessionService) GenerateMacroChain(ctx context.Context, sessionID string, hints json.RawMessage) (*ChainChange, error) {
	change := &ChainChange{}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		sc := m.sc
		if check := engine.CanGenerateMacroChain(sc); !check.OK {
			return apperrors.NewLockConflictError(check.Reason)
		}
		previous := sc.CurrentChain()
		if previous != nil && previous.Status == models.ChainLocked {
			return apperrors.NewLockConflictError("macro chain is locked; unlock it before regenerating").WithField(previous.ChainID)
		}

		data, err := s.generate(ctx, generation.Request{
			Kind:      generation.KindMacroChain,
			SessionID: sessionID,
			Context:   engine.ProjectForPrompt(sc),
			Hints:     hints,
		})
		if err != nil {
			return err
		}
		var payload struct {
			Scenes []models.MacroScene `json:"scenes"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return apperrors.NewGenerationFailure("generated macro chain could not be decoded", err)
		}
		if len(payload.Scenes) == 0 {
			return apperrors.NewGenerationFailure("generated macro chain has no scenes", nil)
		}

		if previous != nil {
			change.Invalidation = engine.OnChainRegenerated(sc, m.now)
			m.emitInvalidation(change.Invalidation)
		}
		chain := &models.MacroChain{
			ChainID:       uuid.NewString(),
			Scenes:        normalizeScenes(payload.Scenes),
			Status:        models.ChainGenerated,
			Version:       1,
			Uses:          sc.Meta.Snapshot(),
			CreatedAt:     m.now,
			LastUpdatedAt: m.now,
		}
		sc.MacroChains[chain.ChainID] = chain
		sc.CurrentChainID = chain.ChainID
		change.Detached = syncDetailsWithChain(sc, chain, m.now)

		m.emit(EventChainGenerated, map[string]interface{}{"chainId": chain.ChainID, "scenes": len(chain.Scenes)})
		utils.GetLogger().Info("macro chain generated", map[string]interface{}{
			"session_id": sessionID,
			"chain_id":   chain.ChainID,
			"scenes":     len(chain.Scenes),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	change.Chain = sc.CurrentChain()
	return change, nil
}

// normalizeScenes 按生成结果的 order 排序，补齐缺失或重复的场景ID，并重新编号
func normalizeScenes(scenes []models.MacroScene) []models.MacroScene {
	chain := models.MacroChain{Scenes: append([]models.MacroScene(nil), scenes...)}
	for i := range chain.Scenes {
		if chain.Scenes[i].Order <= 0 {
			chain.Scenes[i].Order = len(scenes) + i + 1
		}
	}
	chain.SortByOrder()

	provided := map[string]int{}
	for _, scene := range chain.Scenes {
		if scene.ID != "" {
			provided[scene.ID]++
		}
	}
	used := map[string]bool{}
	next := 1
	for i := range chain.Scenes {
		id := chain.Scenes[i].ID
		if id != "" && !used[id] {
			used[id] = true
			continue
		}
		for {
			candidate := fmt.Sprintf("scene-%d", next)
			next++
			if !used[candidate] && provided[candidate] == 0 {
				chain.Scenes[i].ID = candidate
				used[candidate] = true
				break
			}
		}
	}
	chain.Renumber()
	return chain.Scenes
}

const detachedReason = "scene is no longer part of the macro chain"

// syncDetailsWithChain 场景细节的序号与链保持一致。链中已不存在的场景细节保留记录，
// 序号清零并标记为需要重新生成，返回这些场景ID（排序后）。
func syncDetailsWithChain(sc *models.SessionContext, chain *models.MacroChain, now time.Time) []string {
	var detached []string
	for id, detail := range sc.SceneDetails {
		if detail == nil {
			continue
		}
		scene, ok := chain.SceneByID(id)
		if !ok {
			if detail.Sequence != 0 || detail.Status != models.SceneNeedsRegen {
				detail.Sequence = 0
				detail.Status = models.SceneNeedsRegen
				detail.InvalidationReason = detachedReason
				detail.LockedAt = nil
				detail.LastUpdatedAt = now
			}
			detached = append(detached, id)
			continue
		}
		detail.Sequence = scene.Order
	}
	sort.Strings(detached)
	return detached
}

// EditChainScenes 依次应用编辑操作。宏观链必须未锁定；
// 编辑后快照计数器加1，所有场景细节失效。
func (s *SessionService) EditChainScenes(ctx context.Context, sessionID string, edits []ChainEdit) (*ChainChange, error) {
	if len(edits) == 0 {
		return nil, apperrors.NewValidationError("at least one edit is required", nil).WithField("edits")
	}
	change := &ChainChange{}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		sc := m.sc
		if check := engine.CanEditChain(sc); !check.OK {
			if sc.CurrentChain() == nil {
				return apperrors.NewNotFoundError(check.Reason, nil)
			}
			return apperrors.NewLockConflictError(check.Reason)
		}
		chain := sc.CurrentChain()
		for i, edit := range edits {
			if err := applyChainEdit(chain, edit); err != nil {
				return apperrors.WrapError(err, fmt.Sprintf("edit %d", i+1), apperrors.ErrorTypeValidation)
			}
		}
		chain.Renumber()

		change.Detached = syncDetailsWithChain(sc, chain, m.now)
		change.Invalidation = engine.OnChainEdited(sc, m.now)
		chain.Uses.MacroSnapshotV = sc.Meta.MacroSnapshotV
		chain.Status = models.ChainEdited
		chain.Version++
		chain.LastUpdatedAt = m.now

		m.emit(EventChainEdited, map[string]interface{}{"chainId": chain.ChainID, "edits": len(edits)})
		m.emitInvalidation(change.Invalidation)
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	change.Chain = sc.CurrentChain()
	return change, nil
}

func sceneIndex(chain *models.MacroChain, id string) int {
	for i, scene := range chain.Scenes {
		if scene.ID == id {
			return i
		}
	}
	return -1
}

func applyChainEdit(chain *models.MacroChain, edit ChainEdit) error {
	switch edit.Op {
	case ChainOpUpdate:
		idx := sceneIndex(chain, edit.SceneID)
		if idx < 0 {
			return apperrors.NewNotFoundError("scene not found in macro chain", nil).WithField(edit.SceneID)
		}
		scene := &chain.Scenes[idx]
		if edit.Title != nil {
			scene.Title = *edit.Title
		}
		if edit.Objective != nil {
			scene.Objective = *edit.Objective
		}
		if edit.Meta != nil {
			scene.Meta = edit.Meta
		}
		if strings.TrimSpace(scene.Title) == "" {
			return apperrors.NewValidationError("scene title cannot be empty", nil).WithField("title")
		}

	case ChainOpInsert:
		if edit.Title == nil || strings.TrimSpace(*edit.Title) == "" {
			return apperrors.NewValidationError("inserted scene needs a title", nil).WithField("title")
		}
		scene := models.MacroScene{ID: edit.SceneID, Title: *edit.Title, Meta: edit.Meta}
		if edit.Objective != nil {
			scene.Objective = *edit.Objective
		}
		if scene.ID == "" {
			scene.ID = nextSceneID(chain)
		} else if sceneIndex(chain, scene.ID) >= 0 {
			return apperrors.NewValidationError("scene id already exists in macro chain", nil).WithField(scene.ID)
		}
		pos := edit.Position - 1
		if edit.Position <= 0 || pos > len(chain.Scenes) {
			pos = len(chain.Scenes)
		}
		scenes := make([]models.MacroScene, 0, len(chain.Scenes)+1)
		scenes = append(scenes, chain.Scenes[:pos]...)
		scenes = append(scenes, scene)
		chain.Scenes = append(scenes, chain.Scenes[pos:]...)

	case ChainOpDelete:
		idx := sceneIndex(chain, edit.SceneID)
		if idx < 0 {
			return apperrors.NewNotFoundError("scene not found in macro chain", nil).WithField(edit.SceneID)
		}
		if len(chain.Scenes) == 1 {
			return apperrors.NewValidationError("macro chain must keep at least one scene", nil).WithField(edit.SceneID)
		}
		chain.Scenes = append(chain.Scenes[:idx:idx], chain.Scenes[idx+1:]...)

	case ChainOpReorder:
		if len(edit.Order) != len(chain.Scenes) {
			return apperrors.NewValidationError("reorder must list every scene exactly once", nil).WithField("order")
		}
		reordered := make([]models.MacroScene, 0, len(chain.Scenes))
		seen := map[string]bool{}
		for _, id := range edit.Order {
			idx := sceneIndex(chain, id)
			if idx < 0 || seen[id] {
				return apperrors.NewValidationError("reorder must list every scene exactly once", nil).WithField(id)
			}
			seen[id] = true
			reordered = append(reordered, chain.Scenes[idx])
		}
		chain.Scenes = reordered

	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown chain edit op %q", edit.Op), nil).WithField("op")
	}
	return nil
}

// nextSceneID 取链中最大序数加1
func nextSceneID(chain *models.MacroChain) string {
	maxOrdinal := len(chain.Scenes)
	for _, scene := range chain.Scenes {
		if n, ok := engine.SceneOrdinal(scene.ID); ok && n > maxOrdinal {
			maxOrdinal = n
		}
	}
	for n := maxOrdinal + 1; ; n++ {
		id := fmt.Sprintf("scene-%d", n)
		if sceneIndex(chain, id) < 0 {
			return id
		}
	}
}

// LockChain 锁定当前宏观链，之后才能生成场景细节
func (s *SessionService) LockChain(ctx context.Context, sessionID string) (*ChainChange, error) {
	change := &ChainChange{}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		chain := m.sc.CurrentChain()
		if chain == nil {
			return apperrors.NewNotFoundError("no macro chain has been generated", nil)
		}
		if chain.Status == models.ChainLocked {
			return apperrors.NewLockConflictError("macro chain is already locked").WithField(chain.ChainID)
		}
		if st := engine.CheckStaleness(chain.Uses, m.sc.Meta); st.Stale {
			return stalenessError("macro chain", chain.ChainID, st)
		}
		now := m.now
		chain.Status = models.ChainLocked
		chain.LockedAt = &now
		chain.LastUpdatedAt = now
		chain.Version++
		m.emit(EventChainLocked, map[string]interface{}{"chainId": chain.ChainID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	change.Chain = sc.CurrentChain()
	return change, nil
}

// UnlockChain 解锁当前宏观链，状态变为 Edited，所有场景细节需要重新生成
func (s *SessionService) UnlockChain(ctx context.Context, sessionID string) (*ChainChange, error) {
	change := &ChainChange{}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		chain := m.sc.CurrentChain()
		if chain == nil {
			return apperrors.NewNotFoundError("no macro chain has been generated", nil)
		}
		if chain.Status != models.ChainLocked {
			return apperrors.NewLockConflictError("macro chain is not locked").WithField(chain.ChainID)
		}
		chain.Status = models.ChainEdited
		chain.LockedAt = nil
		chain.LastUpdatedAt = m.now
		chain.Version++
		change.Invalidation = engine.OnChainUnlocked(m.sc, m.now)
		m.emit(EventChainUnlocked, map[string]interface{}{"chainId": chain.ChainID})
		m.emitInvalidation(change.Invalidation)
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	change.Chain = sc.CurrentChain()
	return change, nil
}
