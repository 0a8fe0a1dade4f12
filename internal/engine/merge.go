// internal/engine/merge.go
package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/models"
)

// MergeBlock 把新数据按块类型的合并策略并入现有块，返回新的 Blocks。
// 输入的 blocks 不会被修改。
func MergeBlock(blocks models.Blocks, bt models.BlockType, payload json.RawMessage) (models.Blocks, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return blocks, apperrors.NewValidationError("block data is required", nil).WithField("data")
	}

	out := blocks
	var err error
	switch bt {
	case models.BlockBlueprint, models.BlockBackground, models.BlockStoryConcept:
		err = out.Replace(bt, payload)
	case models.BlockCharacters:
		err = out.Replace(bt, wrapCharacterList(payload))
	case models.BlockPlayerHooks:
		out.PlayerHooks, err = appendPlayerHooks(blocks.PlayerHooks, payload)
	case models.BlockWorldSeeds:
		out.WorldSeeds, err = mergeWorldSeeds(blocks.WorldSeeds, payload)
	case models.BlockStylePrefs:
		out.StylePrefs, err = mergeStylePrefs(blocks.StylePrefs, payload)
	case models.BlockCustom:
		out.Custom, err = mergeCustom(blocks.Custom, payload)
	case models.BlockStoryFacts:
		out.StoryFacts, err = appendRawItems(blocks.StoryFacts, payload)
	default:
		// 未知类型整体替换
		other := make(map[string]json.RawMessage, len(blocks.Other)+1)
		for k, v := range blocks.Other {
			other[k] = v
		}
		other[string(bt)] = append(json.RawMessage(nil), payload...)
		out.Other = other
	}
	if err != nil {
		return blocks, apperrors.NewValidationError(fmt.Sprintf("invalid %s data", bt), err).WithField("data")
	}
	return out, nil
}

func isJSONArray(data json.RawMessage) bool {
	return len(data) > 0 && data[0] == '['
}

func isJSONObject(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// wrapCharacterList 允许直接提交角色数组，或使用旧的 {"list": [...]} 结构
func wrapCharacterList(payload json.RawMessage) json.RawMessage {
	if isJSONArray(payload) {
		wrapped, _ := json.Marshal(map[string]json.RawMessage{"characters": payload})
		return wrapped
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err == nil {
		if _, ok := fields["characters"]; !ok {
			if list, ok := fields["list"]; ok {
				fields["characters"] = list
				delete(fields, "list")
				wrapped, _ := json.Marshal(fields)
				return wrapped
			}
		}
	}
	return payload
}

func appendPlayerHooks(existing []models.PlayerHook, payload json.RawMessage) ([]models.PlayerHook, error) {
	var incoming []models.PlayerHook
	if isJSONArray(payload) {
		if err := json.Unmarshal(payload, &incoming); err != nil {
			return nil, err
		}
	} else {
		var hook models.PlayerHook
		if err := json.Unmarshal(payload, &hook); err != nil {
			return nil, err
		}
		incoming = []models.PlayerHook{hook}
	}
	out := make([]models.PlayerHook, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	return append(out, incoming...), nil
}

func concatStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func mergeWorldSeeds(existing *models.WorldSeeds, payload json.RawMessage) (*models.WorldSeeds, error) {
	var incoming models.WorldSeeds
	if err := json.Unmarshal(payload, &incoming); err != nil {
		return nil, err
	}
	base := models.WorldSeeds{}
	if existing != nil {
		base = *existing
	}
	return &models.WorldSeeds{
		Factions:    concatStrings(base.Factions, incoming.Factions),
		Locations:   concatStrings(base.Locations, incoming.Locations),
		Constraints: concatStrings(base.Constraints, incoming.Constraints),
	}, nil
}

// shallowMerge 顶层键浅合并，incoming 中出现的键覆盖 existing
func shallowMerge(existing, incoming map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func mergeStylePrefs(existing *models.StylePrefs, payload json.RawMessage) (*models.StylePrefs, error) {
	var incoming map[string]json.RawMessage
	if err := json.Unmarshal(payload, &incoming); err != nil {
		return nil, err
	}
	var incomingPrefs models.StylePrefs
	if err := json.Unmarshal(payload, &incomingPrefs); err != nil {
		return nil, err
	}

	base := map[string]json.RawMessage{}
	var baseDoNots []string
	if existing != nil {
		data, err := json.Marshal(existing)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &base); err != nil {
			return nil, err
		}
		baseDoNots = existing.DoNots
	}

	merged := shallowMerge(base, incoming)
	doNots, err := json.Marshal(concatStrings(baseDoNots, incomingPrefs.DoNots))
	if err != nil {
		return nil, err
	}
	merged["doNots"] = doNots

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var out models.StylePrefs
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

const customMacroChainKey = "macroChain"

func mergeCustom(existing map[string]json.RawMessage, payload json.RawMessage) (map[string]json.RawMessage, error) {
	var incoming map[string]json.RawMessage
	if err := json.Unmarshal(payload, &incoming); err != nil {
		return nil, err
	}
	merged := shallowMerge(existing, incoming)

	oldChain, hadChain := existing[customMacroChainKey]
	newChain, hasChain := incoming[customMacroChainKey]
	if hadChain && hasChain && isJSONObject(oldChain) && isJSONObject(newChain) {
		var oldFields, newFields map[string]json.RawMessage
		if err := json.Unmarshal(oldChain, &oldFields); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(newChain, &newFields); err != nil {
			return nil, err
		}
		chain, err := json.Marshal(shallowMerge(oldFields, newFields))
		if err != nil {
			return nil, err
		}
		merged[customMacroChainKey] = chain
	}
	return merged, nil
}

func appendRawItems(existing []json.RawMessage, payload json.RawMessage) ([]json.RawMessage, error) {
	var incoming []json.RawMessage
	if isJSONArray(payload) {
		if err := json.Unmarshal(payload, &incoming); err != nil {
			return nil, err
		}
	} else {
		if !json.Valid(payload) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		incoming = []json.RawMessage{append(json.RawMessage(nil), payload...)}
	}
	out := make([]json.RawMessage, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	return append(out, incoming...), nil
}
