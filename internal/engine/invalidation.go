// internal/engine/invalidation.go
package engine

import (
	"sort"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
)

// Invalidation 一次级联失效的结果
type Invalidation struct {
	BlockType         models.BlockType `json:"blockType,omitempty"`
	Triggered         bool             `json:"triggered"`
	ChainInvalidated  string           `json:"chainInvalidated,omitempty"`
	ScenesInvalidated []string         `json:"scenesInvalidated"`
}

const (
	reasonBackgroundChanged = "background changed"
	reasonCharactersChanged = "characters changed"
	reasonChainUnlocked     = "macro chain unlocked"
	reasonSceneUnlocked     = "an earlier scene was unlocked"
	reasonChainEdited       = "macro chain edited"
	reasonChainRegenerated  = "macro chain regenerated"
)

// OnBlockChanged background 或 characters 变化时调用：对应计数器加1，
// 当前宏观链和所有场景细节标记为需要重新生成。其他块类型不触发任何变化。
func OnBlockChanged(sc *models.SessionContext, bt models.BlockType, now time.Time) Invalidation {
	result := Invalidation{BlockType: bt, ScenesInvalidated: []string{}}

	var reason string
	switch bt {
	case models.BlockBackground:
		sc.Meta.BackgroundV++
		reason = reasonBackgroundChanged
	case models.BlockCharacters:
		sc.Meta.CharactersV++
		reason = reasonCharactersChanged
	default:
		return result
	}
	result.Triggered = true
	sc.Meta.UpdatedAt = now

	if chain := sc.CurrentChain(); chain != nil {
		chain.Status = models.ChainNeedsRegen
		chain.LockedAt = nil
		chain.LastUpdatedAt = now
		result.ChainInvalidated = chain.ChainID
	}
	result.ScenesInvalidated = markScenes(sc, now, reason, func(*models.SceneDetail) bool { return true })
	return result
}

// OnChainUnlocked 解锁宏观链后所有场景细节都依赖于一条可变的链
func OnChainUnlocked(sc *models.SessionContext, now time.Time) Invalidation {
	return Invalidation{
		Triggered:         len(sc.SceneDetails) > 0,
		ScenesInvalidated: markScenes(sc, now, reasonChainUnlocked, func(*models.SceneDetail) bool { return true }),
	}
}

// OnChainEdited 宏观链被修改后快照计数器加1，已有场景细节全部失效
func OnChainEdited(sc *models.SessionContext, now time.Time) Invalidation {
	return bumpMacroSnapshot(sc, reasonChainEdited, now)
}

// OnChainRegenerated 已存在的宏观链被重新生成的链替换
func OnChainRegenerated(sc *models.SessionContext, now time.Time) Invalidation {
	return bumpMacroSnapshot(sc, reasonChainRegenerated, now)
}

func bumpMacroSnapshot(sc *models.SessionContext, reason string, now time.Time) Invalidation {
	sc.Meta.MacroSnapshotV++
	sc.Meta.UpdatedAt = now
	return Invalidation{
		Triggered:         true,
		ScenesInvalidated: markScenes(sc, now, reason, func(*models.SceneDetail) bool { return true }),
	}
}

// OnSceneUnlocked 解锁一个场景后，序号更大的已锁定场景都需要重新生成
func OnSceneUnlocked(sc *models.SessionContext, sequence int, now time.Time) Invalidation {
	scenes := markScenes(sc, now, reasonSceneUnlocked, func(d *models.SceneDetail) bool {
		return d.Sequence > sequence && d.Status == models.SceneLocked
	})
	return Invalidation{Triggered: len(scenes) > 0, ScenesInvalidated: scenes}
}

func markScenes(sc *models.SessionContext, now time.Time, reason string, match func(*models.SceneDetail) bool) []string {
	ids := []string{}
	for id, detail := range sc.SceneDetails {
		if detail == nil || !match(detail) {
			continue
		}
		detail.Status = models.SceneNeedsRegen
		detail.InvalidationReason = reason
		detail.LockedAt = nil
		detail.LastUpdatedAt = now
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
