// internal/generation/generator.go
package generation

import (
	"context"
	"encoding/json"

	"github.com/Corphon/SceneForge/internal/engine"
	"github.com/Corphon/SceneForge/internal/models"
)

// Kind 生成产物的类型
type Kind string

const (
	KindBackground  Kind = "background"
	KindCharacters  Kind = "characters"
	KindMacroChain  Kind = "macro_chain"
	KindSceneDetail Kind = "scene_detail"
)

// Kinds 所有产物类型
var Kinds = []Kind{KindBackground, KindCharacters, KindMacroChain, KindSceneDetail}

// Request 发给生成服务的输入，Context 是经过截断和摘要的会话视图
type Request struct {
	Kind      Kind                     `json:"kind"`
	SessionID string                   `json:"sessionId"`
	Context   engine.PromptContext     `json:"context"`
	Chain     []models.MacroScene      `json:"chain,omitempty"`
	Scene     *models.MacroScene       `json:"scene,omitempty"`
	Effective *models.EffectiveContext `json:"effectiveContext,omitempty"`
	Hints     json.RawMessage          `json:"hints,omitempty"`
}

// Generator 外部内容生成服务。返回的 JSON 已经通过对应类型的结构校验，
// 失败时返回 GenerationFailure。
type Generator interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}
