// internal/engine/lock.go
package engine

import (
	"fmt"

	"github.com/Corphon/SceneForge/internal/models"
)

// Check 前置条件检查结果
type Check struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func allowed() Check { return Check{OK: true} }

func denied(format string, args ...any) Check {
	return Check{OK: false, Reason: fmt.Sprintf(format, args...)}
}

// LockBlock 锁定一个块，重复调用无副作用
func LockBlock(sc *models.SessionContext, bt models.BlockType) {
	sc.EnsureContainers()
	sc.Locks[bt] = true
}

// UnlockBlock 解锁一个块
func UnlockBlock(sc *models.SessionContext, bt models.BlockType) {
	sc.EnsureContainers()
	sc.Locks[bt] = false
}

// IsBlockLocked 块是否已锁定
func IsBlockLocked(sc *models.SessionContext, bt models.BlockType) bool {
	return sc.Locks[bt]
}

// CanGenerateMacroChain 生成宏观链需要背景存在且已锁定。
// 角色块的锁不是必需条件。
func CanGenerateMacroChain(sc *models.SessionContext) Check {
	if !sc.Blocks.Has(models.BlockBackground) {
		return denied("background must be generated before the macro chain")
	}
	if !sc.Locks[models.BlockBackground] {
		return denied("background must be locked before generating the macro chain")
	}
	return allowed()
}

// CanGenerateScene 第1个场景总是允许；之后的场景要求前一个序号的场景存在且已锁定
func CanGenerateScene(sc *models.SessionContext, order int) Check {
	if order < 1 {
		return denied("scene order must be at least 1, got %d", order)
	}
	if order == 1 {
		return allowed()
	}
	prev := sc.SceneBySequence(order - 1)
	if prev == nil {
		return denied("scene %d must be generated and locked before scene %d", order-1, order)
	}
	if prev.Status != models.SceneLocked {
		return denied("scene %d must be locked before generating scene %d (status %s)", order-1, order, prev.Status)
	}
	return allowed()
}

// CanLockScene 只有 Generated 或 Edited 的场景可以锁定。
// NeedsRegen 的场景须先重新生成。
func CanLockScene(sc *models.SessionContext, sceneID string) Check {
	detail, ok := sc.SceneDetails[sceneID]
	if !ok || detail == nil {
		return denied("scene %s has no detail to lock", sceneID)
	}
	if chain := sc.CurrentChain(); chain != nil {
		if _, inChain := chain.SceneByID(sceneID); !inChain {
			return denied("scene %s is no longer part of the macro chain", sceneID)
		}
	}
	switch detail.Status {
	case models.SceneGenerated, models.SceneEdited:
		return allowed()
	case models.SceneLocked:
		return denied("scene %s is already locked", sceneID)
	case models.SceneNeedsRegen:
		return denied("scene %s needs regeneration before it can be locked", sceneID)
	default:
		return denied("scene %s cannot be locked from status %s", sceneID, detail.Status)
	}
}

// CanEditChain 当前链存在且未锁定
func CanEditChain(sc *models.SessionContext) Check {
	chain := sc.CurrentChain()
	if chain == nil {
		return denied("no macro chain has been generated")
	}
	if chain.Status == models.ChainLocked {
		return denied("macro chain %s is locked; unlock it before editing", chain.ChainID)
	}
	return allowed()
}

// CanGenerateCharacters 角色依赖已锁定的背景
func CanGenerateCharacters(sc *models.SessionContext) Check {
	if !sc.Blocks.Has(models.BlockBackground) {
		return denied("background must be generated before characters")
	}
	if !sc.Locks[models.BlockBackground] {
		return denied("background must be locked before generating characters")
	}
	return allowed()
}
