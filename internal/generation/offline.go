// internal/generation/offline.go
package generation

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/models"
)

// OfflineGenerator 不调用外部服务，按输入拼出结构完整的占位内容。
// 用于本地开发和没有配置模型密钥的部署。
type OfflineGenerator struct {
	validator *Validator
	scenes    int
}

var _ Generator = (*OfflineGenerator)(nil)

// NewOfflineGenerator 创建离线生成器，scenes 为宏观链的场景数
func NewOfflineGenerator(validator *Validator, scenes int) *OfflineGenerator {
	if scenes <= 0 {
		scenes = 4
	}
	return &OfflineGenerator{validator: validator, scenes: scenes}
}

// Generate 生成占位内容
func (g *OfflineGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewGenerationFailure("generation was cancelled or timed out", err)
	}

	var value any
	switch req.Kind {
	case KindBackground:
		premise := "A frontier town hides a buried relic"
		if req.Context.Blueprint != nil && req.Context.Blueprint.CoreIdea != "" {
			premise = req.Context.Blueprint.CoreIdea
		}
		value = models.Background{
			Premise:   premise,
			ToneRules: []string{"grounded", "tense"},
			Stakes:    []string{"the town falls if the relic wakes"},
			Mysteries: []string{"who buried the relic"},
			Factions:  []string{"Wardens", "Diggers"},
			Motifs:    []string{"dust", "bells"},

			LocationPalette:       []string{"bell tower", "collapsed mine"},
			NPCRosterSkeleton:     []string{"warden captain", "digger foreman"},
			DoNots:                []string{},
			PlaystyleImplications: []string{"investigation before combat"},
		}
	case KindCharacters:
		value = models.CharactersBlock{Characters: []models.Character{
			{ID: "char-1", Name: "Iria Vane", Role: "warden captain", Motivation: "keep the relic sealed"},
			{ID: "char-2", Name: "Tobin Marsh", Role: "digger foreman", Motivation: "pay off the mine debt"},
		}}
	case KindMacroChain:
		scenes := make([]models.MacroScene, 0, g.scenes)
		for i := 1; i <= g.scenes; i++ {
			scenes = append(scenes, models.MacroScene{
				ID:        fmt.Sprintf("scene-%d", i),
				Order:     i,
				Title:     fmt.Sprintf("Scene %d", i),
				Objective: fmt.Sprintf("Advance the story to beat %d", i),
			})
		}
		value = map[string]any{"scenes": scenes}
	case KindSceneDetail:
		if req.Scene == nil {
			return nil, apperrors.NewGenerationFailure("scene detail request has no target scene", nil)
		}
		event := fmt.Sprintf("%s resolved", req.Scene.Title)
		value = models.SceneDetail{
			Title:        req.Scene.Title,
			Objective:    req.Scene.Objective,
			KeyEvents:    []string{event},
			RevealedInfo: []string{},
			StateChanges: map[string]any{req.Scene.ID: "done"},
			ContextOut: &models.EffectiveContext{
				KeyEvents:          []string{event},
				RevealedInfo:       []string{},
				StateChanges:       map[string]any{req.Scene.ID: "done"},
				NPCRelationships:   map[string]models.NPCRelationship{},
				EnvironmentalState: map[string]any{},
				PlotThreads:        []models.PlotThread{},
				PlayerDecisions:    []models.PlayerDecision{},
			},
		}
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown generation kind %q", req.Kind), nil).WithField("kind")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, apperrors.NewGenerationFailure("could not encode generated content", err)
	}
	if err := g.validator.Validate(req.Kind, data); err != nil {
		return nil, apperrors.NewGenerationFailure(fmt.Sprintf("generated content does not match the %s structure", req.Kind), err)
	}
	return data, nil
}
