// internal/generation/llm_generator.go
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/llm"
	"github.com/Corphon/SceneForge/internal/utils"
)

// Options LLM 生成参数
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// LLMGenerator 通过 llm.Provider 生成内容并校验结构
type LLMGenerator struct {
	provider  llm.Provider
	validator *Validator
	opts      Options
}

var _ Generator = (*LLMGenerator)(nil)

// NewLLMGenerator 创建基于大模型的生成器
func NewLLMGenerator(provider llm.Provider, validator *Validator, opts Options) *LLMGenerator {
	if opts.Temperature == 0 {
		opts.Temperature = 0.7
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4000
	}
	return &LLMGenerator{provider: provider, validator: validator, opts: opts}
}

var systemPrompts = map[Kind]string{
	KindBackground: `You design tabletop campaign backgrounds. Reply with one JSON object with the fields ` +
		`premise, tone_rules, stakes, mysteries, factions, location_palette, npc_roster_skeleton, motifs, doNots, playstyle_implications.`,
	KindCharacters: `You design the cast of a tabletop campaign that fits the given background. Reply with one JSON object ` +
		`{"characters":[...]} where each character has id, name, role, race, class, personality, motivation, connectionToStory, gmSecret.`,
	KindMacroChain: `You outline a campaign as an ordered chain of scenes. Reply with one JSON object ` +
		`{"scenes":[{"id","order","title","objective"}]} with ids of the form scene-N.`,
	KindSceneDetail: `You write the detail of one scene. Continue from effectiveContext, which summarizes everything that ` +
		`already happened. Reply with one JSON object with title, objective, keyEvents, revealedInfo, stateChanges, epicIntro, ` +
		`setting, atmosphere, gmNarrative, beats, rewards and contextOut {keyEvents, revealedInfo, stateChanges, ` +
		`npcRelationships, environmentalState, plotThreads, playerDecisions}.`,
}

// Generate 调用模型并返回通过校验的 JSON
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	system, ok := systemPrompts[req.Kind]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown generation kind %q", req.Kind), nil).WithField("kind")
	}
	prompt, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, apperrors.NewGenerationFailure("could not encode generation request", err)
	}

	resp, err := g.provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       string(prompt),
		SystemPrompt: system,
		Model:        g.opts.Model,
		Temperature:  g.opts.Temperature,
		MaxTokens:    g.opts.MaxTokens,
		JSONMode:     true,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.NewGenerationFailure("generation was cancelled or timed out", ctxErr)
		}
		return nil, apperrors.NewGenerationFailure("generation service call failed", err)
	}

	utils.GetLogger().Info("generation completed", map[string]interface{}{
		"session_id": req.SessionID,
		"kind":       string(req.Kind),
		"provider":   resp.ProviderName,
		"model":      resp.ModelName,
		"tokens":     resp.TokensUsed,
	})

	data, err := ExtractJSON(resp.Text)
	if err != nil {
		return nil, apperrors.NewGenerationFailure("generation result is not JSON", err)
	}
	data = wrapBareList(req.Kind, data)
	if err := g.validator.Validate(req.Kind, data); err != nil {
		return nil, apperrors.NewGenerationFailure(fmt.Sprintf("generation result does not match the %s structure", req.Kind), err)
	}
	return data, nil
}

// ExtractJSON 去掉 markdown 代码块，取出第一个完整的 JSON 对象或数组
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON value in response")
	}
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return bytes.TrimSpace(raw), nil
}

// wrapBareList 模型有时直接返回数组
func wrapBareList(kind Kind, data json.RawMessage) json.RawMessage {
	if len(data) == 0 || data[0] != '[' {
		return data
	}
	var key string
	switch kind {
	case KindCharacters:
		key = "characters"
	case KindMacroChain:
		key = "scenes"
	default:
		return data
	}
	wrapped, err := json.Marshal(map[string]json.RawMessage{key: data})
	if err != nil {
		return data
	}
	return wrapped
}
