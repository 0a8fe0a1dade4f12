// internal/models/blocks.go
package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// BlockType 会话块类型
type BlockType string

const (
	BlockBlueprint    BlockType = "blueprint"
	BlockPlayerHooks  BlockType = "player_hooks"
	BlockWorldSeeds   BlockType = "world_seeds"
	BlockStylePrefs   BlockType = "style_prefs"
	BlockCustom       BlockType = "custom"
	BlockStoryFacts   BlockType = "story_facts"
	BlockBackground   BlockType = "background"
	BlockStoryConcept BlockType = "story_concept"
	BlockCharacters   BlockType = "characters"
)

// KnownBlockTypes 客户端可以追加或锁定的块类型
var KnownBlockTypes = []BlockType{
	BlockBlueprint,
	BlockPlayerHooks,
	BlockWorldSeeds,
	BlockStylePrefs,
	BlockCustom,
	BlockStoryFacts,
	BlockBackground,
	BlockStoryConcept,
	BlockCharacters,
}

// ParseBlockType 校验块类型名称
func ParseBlockType(name string) (BlockType, bool) {
	for _, bt := range KnownBlockTypes {
		if string(bt) == name {
			return bt, true
		}
	}
	return "", false
}

// GatesDownstream 该块的变化是否会使下游产物失效
func (bt BlockType) GatesDownstream() bool {
	return bt == BlockBackground || bt == BlockCharacters
}

// Background 故事背景
type Background struct {
	Premise               string   `json:"premise"`
	ToneRules             []string `json:"tone_rules"`
	Stakes                []string `json:"stakes"`
	Mysteries             []string `json:"mysteries"`
	Factions              []string `json:"factions"`
	LocationPalette       []string `json:"location_palette"`
	NPCRosterSkeleton     []string `json:"npc_roster_skeleton"`
	Motifs                []string `json:"motifs"`
	DoNots                []string `json:"doNots"`
	PlaystyleImplications []string `json:"playstyle_implications"`
	NumberOfPlayers       int      `json:"numberOfPlayers,omitempty"`
}

// Blueprint 故事蓝图
type Blueprint struct {
	Theme    string   `json:"theme,omitempty"`
	CoreIdea string   `json:"core_idea,omitempty"`
	Tone     string   `json:"tone,omitempty"`
	Pacing   string   `json:"pacing,omitempty"`
	Setting  string   `json:"setting,omitempty"`
	Hooks    []string `json:"hooks,omitempty"`
}

// PlayerHook 玩家钩子
type PlayerHook struct {
	Name       string   `json:"name"`
	Class      string   `json:"class"`
	Motivation string   `json:"motivation"`
	Ties       []string `json:"ties"`
}

// WorldSeeds 世界种子
type WorldSeeds struct {
	Factions    []string `json:"factions"`
	Locations   []string `json:"locations"`
	Constraints []string `json:"constraints"`
}

// StylePrefs 风格偏好
type StylePrefs struct {
	Language    string   `json:"language,omitempty"`
	Tone        string   `json:"tone,omitempty"`
	PacingHints []string `json:"pacingHints,omitempty"`
	DoNots      []string `json:"doNots"`
}

// StoryConcept 故事概念
type StoryConcept struct {
	Concept   string                     `json:"concept"`
	Meta      map[string]json.RawMessage `json:"meta,omitempty"`
	Timestamp string                     `json:"timestamp,omitempty"`
}

// Blocks 按块类型区分的会话数据。已知类型各有固定结构，
// 存储中出现的未知类型原样保存在 Other 中。
type Blocks struct {
	Background   *Background
	Characters   *CharactersBlock
	Blueprint    *Blueprint
	PlayerHooks  []PlayerHook
	WorldSeeds   *WorldSeeds
	StylePrefs   *StylePrefs
	StoryConcept *StoryConcept
	Custom       map[string]json.RawMessage
	StoryFacts   []json.RawMessage
	Other        map[string]json.RawMessage
}

// Has 块是否存在
func (b Blocks) Has(bt BlockType) bool {
	switch bt {
	case BlockBackground:
		return b.Background != nil
	case BlockCharacters:
		return b.Characters != nil
	case BlockBlueprint:
		return b.Blueprint != nil
	case BlockPlayerHooks:
		return b.PlayerHooks != nil
	case BlockWorldSeeds:
		return b.WorldSeeds != nil
	case BlockStylePrefs:
		return b.StylePrefs != nil
	case BlockStoryConcept:
		return b.StoryConcept != nil
	case BlockCustom:
		return b.Custom != nil
	case BlockStoryFacts:
		return b.StoryFacts != nil
	default:
		_, ok := b.Other[string(bt)]
		return ok
	}
}

// Names 返回已存在块的类型名（排序后）
func (b Blocks) Names() []string {
	raw, err := b.toRawMap()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b Blocks) toRawMap() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(b.Other)+9)
	for k, v := range b.Other {
		out[k] = v
	}
	put := func(bt BlockType, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("序列化块 %s 失败: %w", bt, err)
		}
		out[string(bt)] = data
		return nil
	}
	fields := []struct {
		bt      BlockType
		present bool
		value   any
	}{
		{BlockBackground, b.Background != nil, b.Background},
		{BlockCharacters, b.Characters != nil, b.Characters},
		{BlockBlueprint, b.Blueprint != nil, b.Blueprint},
		{BlockPlayerHooks, b.PlayerHooks != nil, b.PlayerHooks},
		{BlockWorldSeeds, b.WorldSeeds != nil, b.WorldSeeds},
		{BlockStylePrefs, b.StylePrefs != nil, b.StylePrefs},
		{BlockStoryConcept, b.StoryConcept != nil, b.StoryConcept},
		{BlockCustom, b.Custom != nil, b.Custom},
		{BlockStoryFacts, b.StoryFacts != nil, b.StoryFacts},
	}
	for _, f := range fields {
		if !f.present {
			continue
		}
		if err := put(f.bt, f.value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarshalJSON 以 块类型名 -> 内容 的对象形式输出
func (b Blocks) MarshalJSON() ([]byte, error) {
	raw, err := b.toRawMap()
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

// UnmarshalJSON 按块类型解析到对应结构
func (b *Blocks) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Blocks{}
	for name, value := range raw {
		if string(value) == "null" {
			continue
		}
		if err := b.setRaw(BlockType(name), value); err != nil {
			return fmt.Errorf("解析块 %s 失败: %w", name, err)
		}
	}
	return nil
}

// setRaw 用原始 JSON 整体替换一个块
func (b *Blocks) setRaw(bt BlockType, value json.RawMessage) error {
	switch bt {
	case BlockBackground:
		var v Background
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		b.Background = &v
	case BlockCharacters:
		var v CharactersBlock
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		if v.Characters == nil {
			v.Characters = []Character{}
		}
		b.Characters = &v
	case BlockBlueprint:
		var v Blueprint
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		b.Blueprint = &v
	case BlockPlayerHooks:
		var v []PlayerHook
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		if v == nil {
			v = []PlayerHook{}
		}
		b.PlayerHooks = v
	case BlockWorldSeeds:
		var v WorldSeeds
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		b.WorldSeeds = &v
	case BlockStylePrefs:
		var v StylePrefs
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		b.StylePrefs = &v
	case BlockStoryConcept:
		var v StoryConcept
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		b.StoryConcept = &v
	case BlockCustom:
		var v map[string]json.RawMessage
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		if v == nil {
			v = map[string]json.RawMessage{}
		}
		b.Custom = v
	case BlockStoryFacts:
		var v []json.RawMessage
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		if v == nil {
			v = []json.RawMessage{}
		}
		b.StoryFacts = v
	default:
		if b.Other == nil {
			b.Other = make(map[string]json.RawMessage)
		}
		b.Other[string(bt)] = append(json.RawMessage(nil), value...)
	}
	return nil
}

// Replace 整体替换一个块（任何类型）
func (b *Blocks) Replace(bt BlockType, value json.RawMessage) error {
	return b.setRaw(bt, value)
}

// Clear 清空所有块
func (b *Blocks) Clear() {
	*b = Blocks{}
}
