// internal/engine/projection.go
package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/Corphon/SceneForge/internal/models"
)

// 提示词投影中各列表的上限
const (
	summaryMaxLength     = 200
	maxBlueprintHooks    = 5
	maxPlayerHooks       = 3
	maxHookTies          = 2
	maxSeedFactions      = 3
	maxSeedLocations     = 3
	maxSeedConstraints   = 5
	maxPacingHints       = 3
	maxStyleDoNots       = 5
	maxBackgroundEntries = 5
	maxCharacters        = 5
)

// PromptHook 投影后的玩家钩子
type PromptHook struct {
	Name       string   `json:"name"`
	Class      string   `json:"class"`
	Motivation string   `json:"motivation"`
	Ties       []string `json:"ties"`
}

// PromptCharacters 投影后的角色块
type PromptCharacters struct {
	List    []models.Character `json:"list"`
	Locked  bool               `json:"locked"`
	Version int64              `json:"version"`
}

// PromptContext 交给生成服务的会话视图：列表截断，长文本摘要
type PromptContext struct {
	Blueprint    *models.Blueprint    `json:"blueprint,omitempty"`
	PlayerHooks  []PromptHook         `json:"player_hooks,omitempty"`
	WorldSeeds   *models.WorldSeeds   `json:"world_seeds,omitempty"`
	StylePrefs   *models.StylePrefs   `json:"style_prefs,omitempty"`
	Background   *models.Background   `json:"background,omitempty"`
	StoryConcept *models.StoryConcept `json:"story_concept,omitempty"`
	Characters   *PromptCharacters    `json:"characters,omitempty"`
}

// ProjectForPrompt 构建提示词用的会话视图，不修改会话
func ProjectForPrompt(sc *models.SessionContext) PromptContext {
	var out PromptContext
	b := sc.Blocks

	if bp := b.Blueprint; bp != nil {
		out.Blueprint = &models.Blueprint{
			Theme:    bp.Theme,
			CoreIdea: Summarize(bp.CoreIdea, summaryMaxLength),
			Tone:     bp.Tone,
			Pacing:   bp.Pacing,
			Setting:  bp.Setting,
			Hooks:    capStrings(bp.Hooks, maxBlueprintHooks),
		}
	}

	if len(b.PlayerHooks) > 0 {
		hooks := b.PlayerHooks
		if len(hooks) > maxPlayerHooks {
			hooks = hooks[:maxPlayerHooks]
		}
		for _, h := range hooks {
			out.PlayerHooks = append(out.PlayerHooks, PromptHook{
				Name:       h.Name,
				Class:      h.Class,
				Motivation: Summarize(h.Motivation, summaryMaxLength),
				Ties:       capStrings(h.Ties, maxHookTies),
			})
		}
	}

	if ws := b.WorldSeeds; ws != nil {
		out.WorldSeeds = &models.WorldSeeds{
			Factions:    capStrings(ws.Factions, maxSeedFactions),
			Locations:   capStrings(ws.Locations, maxSeedLocations),
			Constraints: capStrings(ws.Constraints, maxSeedConstraints),
		}
	}

	if sp := b.StylePrefs; sp != nil {
		out.StylePrefs = &models.StylePrefs{
			Language:    sp.Language,
			Tone:        sp.Tone,
			PacingHints: capStrings(sp.PacingHints, maxPacingHints),
			DoNots:      capStrings(sp.DoNots, maxStyleDoNots),
		}
	}

	if bg := b.Background; bg != nil {
		out.Background = &models.Background{
			Premise:               bg.Premise,
			ToneRules:             capStrings(bg.ToneRules, maxBackgroundEntries),
			Stakes:                capStrings(bg.Stakes, maxBackgroundEntries),
			Mysteries:             capStrings(bg.Mysteries, maxBackgroundEntries),
			Factions:              capStrings(bg.Factions, maxBackgroundEntries),
			LocationPalette:       capStrings(bg.LocationPalette, maxBackgroundEntries),
			NPCRosterSkeleton:     capStrings(bg.NPCRosterSkeleton, maxBackgroundEntries),
			Motifs:                capStrings(bg.Motifs, maxBackgroundEntries),
			DoNots:                capStrings(bg.DoNots, maxBackgroundEntries),
			PlaystyleImplications: capStrings(bg.PlaystyleImplications, maxBackgroundEntries),
			NumberOfPlayers:       bg.NumberOfPlayers,
		}
	}

	if concept := b.StoryConcept; concept != nil {
		c := *concept
		out.StoryConcept = &c
	}

	if chars := b.Characters; chars != nil {
		list := chars.Characters
		if len(list) > maxCharacters {
			list = list[:maxCharacters]
		}
		out.Characters = &PromptCharacters{
			List:    append([]models.Character{}, list...),
			Locked:  sc.Locks[models.BlockCharacters],
			Version: sc.Meta.CharactersV,
		}
	}
	return out
}

func capStrings(values []string, limit int) []string {
	if len(values) > limit {
		values = values[:limit]
	}
	return append([]string{}, values...)
}

// Summarize 超过 maxLength 的文本只保留前两句，仍然过长时截断并以 "..." 结尾
func Summarize(content string, maxLength int) string {
	if utf8.RuneCountInString(content) <= maxLength {
		return content
	}
	sentences := []string{}
	for _, s := range strings.Split(content, ".") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	summary := strings.TrimSpace(strings.Join(sentences, ". "))
	runes := []rune(summary)
	if len(runes) > maxLength {
		return string(runes[:maxLength-3]) + "..."
	}
	return summary
}
