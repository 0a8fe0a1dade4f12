// internal/engine/delta.go
package engine

import (
	"fmt"
	"strings"

	"github.com/Corphon/SceneForge/internal/models"
)

const (
	noChangesSummary = "No significant changes detected"
	hardChangeReason = "Previous scene had major plot changes"
	softChangeReason = "Previous scene had minor state changes"

	// downstreamWindow 一次修改最多影响后续多少个场景
	downstreamWindow = 3
)

var (
	hardKeys = []string{"keyEvents", "revealedInfo", "plotThreads", "playerDecisions"}
	softKeys = []string{"stateChanges", "npcRelationships", "environmentalState"}
)

// DiffResult 场景修改的差异和受影响的下游场景
type DiffResult struct {
	Delta          models.Delta           `json:"delta"`
	AffectedScenes []models.AffectedScene `json:"affectedScenes"`
}

type fieldPair struct {
	path     string
	old, new any
}

// Diff 比较同一场景的两个版本
func Diff(oldDetail, newDetail *models.SceneDetail) DiffResult {
	result := DiffResult{
		Delta:          models.Delta{KeysChanged: []string{}, Summary: noChangesSummary},
		AffectedScenes: []models.AffectedScene{},
	}
	if oldDetail == nil || newDetail == nil {
		return result
	}

	pairs := []fieldPair{
		{"keyEvents", oldDetail.KeyEvents, newDetail.KeyEvents},
		{"revealedInfo", oldDetail.RevealedInfo, newDetail.RevealedInfo},
		{"stateChanges", oldDetail.StateChanges, newDetail.StateChanges},
	}
	if oldDetail.ContextOut != nil && newDetail.ContextOut != nil {
		o, n := oldDetail.ContextOut, newDetail.ContextOut
		pairs = append(pairs,
			fieldPair{"contextOut.keyEvents", o.KeyEvents, n.KeyEvents},
			fieldPair{"contextOut.revealedInfo", o.RevealedInfo, n.RevealedInfo},
			fieldPair{"contextOut.stateChanges", o.StateChanges, n.StateChanges},
			fieldPair{"contextOut.npcRelationships", o.NPCRelationships, n.NPCRelationships},
			fieldPair{"contextOut.environmentalState", o.EnvironmentalState, n.EnvironmentalState},
			fieldPair{"contextOut.plotThreads", o.PlotThreads, n.PlotThreads},
			fieldPair{"contextOut.playerDecisions", o.PlayerDecisions, n.PlayerDecisions},
		)
	}

	clauses := []string{}
	for _, p := range pairs {
		if StructurallyEqual(p.old, p.new) {
			continue
		}
		result.Delta.KeysChanged = append(result.Delta.KeysChanged, p.path)
		clauses = append(clauses, describeChange(p))
	}
	if len(clauses) > 0 {
		result.Delta.Summary = strings.Join(clauses, "; ")
	}

	severity, ok := classify(result.Delta.KeysChanged)
	if !ok {
		return result
	}
	reason := softChangeReason
	if severity == models.SeverityHard {
		reason = hardChangeReason
	}
	for _, id := range DownstreamSceneIDs(newDetail.SceneID, downstreamWindow) {
		result.AffectedScenes = append(result.AffectedScenes, models.AffectedScene{
			SceneID:  id,
			Reason:   reason,
			Severity: severity,
		})
	}
	return result
}

// classify 任一路径命中硬性字段即为 hard，否则命中软性字段为 soft
func classify(paths []string) (models.Severity, bool) {
	hasSoft := false
	for _, path := range paths {
		if containsAny(path, hardKeys) {
			return models.SeverityHard, true
		}
		if containsAny(path, softKeys) {
			hasSoft = true
		}
	}
	if hasSoft {
		return models.SeveritySoft, true
	}
	return "", false
}

func containsAny(path string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(path, k) {
			return true
		}
	}
	return false
}

func describeChange(p fieldPair) string {
	oldLen, oldCountable := sizeOf(p.old)
	newLen, newCountable := sizeOf(p.new)
	if oldCountable && newCountable && oldLen != newLen {
		return fmt.Sprintf("%s changed (%d -> %d entries)", p.path, oldLen, newLen)
	}
	return fmt.Sprintf("%s changed", p.path)
}

func sizeOf(v any) (int, bool) {
	switch t := toGeneric(v).(type) {
	case nil:
		return 0, true
	case []any:
		return len(t), true
	case map[string]any:
		return len(t), true
	default:
		return 0, false
	}
}
