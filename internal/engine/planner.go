// internal/engine/planner.go
package engine

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/Corphon/SceneForge/internal/models"
)

var trailingOrdinal = regexp.MustCompile(`(\d+)$`)

// SceneOrdinal 从场景ID末尾的数字解析序号，例如 "scene-12" -> 12
func SceneOrdinal(sceneID string) (int, bool) {
	m := trailingOrdinal.FindStringSubmatch(sceneID)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// DownstreamSceneIDs 按同样的前缀生成后续 count 个场景ID。
// 无法解析序号时返回空列表。
func DownstreamSceneIDs(sceneID string, count int) []string {
	loc := trailingOrdinal.FindStringSubmatchIndex(sceneID)
	if loc == nil {
		return []string{}
	}
	prefix := sceneID[:loc[2]]
	n, err := strconv.Atoi(sceneID[loc[2]:loc[3]])
	if err != nil {
		return []string{}
	}
	ids := make([]string, 0, count)
	for offset := 1; offset <= count; offset++ {
		ids = append(ids, prefix+strconv.Itoa(n+offset))
	}
	return ids
}

func severityRank(s models.Severity) int {
	if s == models.SeverityHard {
		return 0
	}
	return 1
}

// PlanRegeneration 硬性影响排在软性影响之前，同级按场景序号升序；
// 序号超过 knownSceneCount 或无法解析的场景被丢弃，重复ID只保留第一次出现。
func PlanRegeneration(affected []models.AffectedScene, knownSceneCount int) models.RegenerationPlan {
	type entry struct {
		scene   models.AffectedScene
		ordinal int
	}
	entries := make([]entry, 0, len(affected))
	for _, a := range affected {
		n, ok := SceneOrdinal(a.SceneID)
		if !ok || n > knownSceneCount {
			continue
		}
		entries = append(entries, entry{scene: a, ordinal: n})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := severityRank(entries[i].scene.Severity), severityRank(entries[j].scene.Severity)
		if ri != rj {
			return ri < rj
		}
		return entries[i].ordinal < entries[j].ordinal
	})

	plan := models.RegenerationPlan{}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.scene.SceneID] {
			continue
		}
		seen[e.scene.SceneID] = true
		plan = append(plan, e.scene.SceneID)
	}
	return plan
}
