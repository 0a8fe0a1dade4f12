// internal/engine/staleness.go
package engine

import (
	"fmt"
	"strings"

	"github.com/Corphon/SceneForge/internal/models"
)

// 版本维度名称
const (
	DimensionBackground    = "background"
	DimensionCharacters    = "characters"
	DimensionMacroSnapshot = "macroSnapshot"
)

// Staleness 快照与当前计数器的比较结果
type Staleness struct {
	Stale      bool     `json:"stale"`
	Mismatches []string `json:"mismatches"`
	Message    string   `json:"message,omitempty"`
}

// CheckStaleness 任一计数器大于快照中的值即视为过期
func CheckStaleness(uses models.VersionSnapshot, meta models.Meta) Staleness {
	mismatches := []string{}
	if meta.BackgroundV > uses.BackgroundV {
		mismatches = append(mismatches, DimensionBackground)
	}
	if meta.CharactersV > uses.CharactersV {
		mismatches = append(mismatches, DimensionCharacters)
	}
	if meta.MacroSnapshotV > uses.MacroSnapshotV {
		mismatches = append(mismatches, DimensionMacroSnapshot)
	}
	result := Staleness{Stale: len(mismatches) > 0, Mismatches: mismatches}
	if result.Stale {
		result.Message = stalenessMessage(mismatches)
	}
	return result
}

func stalenessMessage(dimensions []string) string {
	names := make([]string, len(dimensions))
	for i, d := range dimensions {
		if d == DimensionMacroSnapshot {
			names[i] = "macro chain"
		} else {
			names[i] = d
		}
	}
	verb := "has"
	if len(names) > 1 {
		verb = "have"
	}
	return fmt.Sprintf("%s %s changed since this content was generated", strings.Join(names, " and "), verb)
}
