// internal/engine/effective_context.go
package engine

import (
	"sort"

	"github.com/Corphon/SceneForge/internal/models"
)

// LockedPredecessors 返回序号小于 upToSequence 的已锁定场景，按序号升序
func LockedPredecessors(sc *models.SessionContext, upToSequence int) []*models.SceneDetail {
	scenes := make([]*models.SceneDetail, 0, len(sc.SceneDetails))
	for _, detail := range sc.SceneDetails {
		if detail == nil || detail.Status != models.SceneLocked || detail.Sequence < 1 || detail.Sequence >= upToSequence {
			continue
		}
		scenes = append(scenes, detail)
	}
	sort.SliceStable(scenes, func(i, j int) bool {
		if scenes[i].Sequence != scenes[j].Sequence {
			return scenes[i].Sequence < scenes[j].Sequence
		}
		return scenes[i].SceneID < scenes[j].SceneID
	})
	return scenes
}

// BuildEffectiveContext 把所有已锁定前序场景的 contextOut 依次折叠成一个累计上下文。
// 列表按场景顺序追加（保留重复项），映射按顺序覆盖（后面的场景覆盖同名键）。
// 没有已锁定前序场景时返回全空的上下文。
func BuildEffectiveContext(sc *models.SessionContext, upToSequence int) models.EffectiveContext {
	acc := models.NewEffectiveContext()
	for _, detail := range LockedPredecessors(sc, upToSequence) {
		if detail.ContextOut == nil {
			continue
		}
		out := detail.ContextOut
		acc.KeyEvents = append(acc.KeyEvents, out.KeyEvents...)
		acc.RevealedInfo = append(acc.RevealedInfo, out.RevealedInfo...)
		acc.PlotThreads = append(acc.PlotThreads, out.PlotThreads...)
		acc.PlayerDecisions = append(acc.PlayerDecisions, out.PlayerDecisions...)

		overlay(acc.StateChanges, out.StateChanges)
		overlay(acc.EnvironmentalState, out.EnvironmentalState)
		for name, rel := range out.NPCRelationships {
			acc.NPCRelationships[name] = rel
		}
	}
	return acc
}

func overlay(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
}
