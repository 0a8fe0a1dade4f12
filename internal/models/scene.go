// internal/models/scene.go
package models

import (
	"sort"
	"time"
)

// ChainStatus 宏观场景链状态
type ChainStatus string

const (
	ChainDraft      ChainStatus = "Draft"
	ChainGenerated  ChainStatus = "Generated"
	ChainEdited     ChainStatus = "Edited"
	ChainLocked     ChainStatus = "Locked"
	ChainNeedsRegen ChainStatus = "NeedsRegen"
)

// SceneStatus 场景细节状态
type SceneStatus string

const (
	SceneGenerated  SceneStatus = "Generated"
	SceneEdited     SceneStatus = "Edited"
	SceneLocked     SceneStatus = "Locked"
	SceneNeedsRegen SceneStatus = "NeedsRegen"
)

// MacroScene 宏观链中的一个场景
type MacroScene struct {
	ID        string         `json:"id"`
	Order     int            `json:"order"`
	Title     string         `json:"title"`
	Objective string         `json:"objective"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// MacroChain 宏观场景链
type MacroChain struct {
	ChainID       string          `json:"chainId"`
	Scenes        []MacroScene    `json:"scenes"`
	Status        ChainStatus     `json:"status"`
	Version       int64           `json:"version"`
	Uses          VersionSnapshot `json:"uses"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt"`
	LockedAt      *time.Time      `json:"lockedAt,omitempty"`
}

// SceneByID 按ID查找宏观场景
func (mc *MacroChain) SceneByID(id string) (MacroScene, bool) {
	for _, s := range mc.Scenes {
		if s.ID == id {
			return s, true
		}
	}
	return MacroScene{}, false
}

// Renumber 按当前顺序把 order 重新编号为 1..N
func (mc *MacroChain) Renumber() {
	for i := range mc.Scenes {
		mc.Scenes[i].Order = i + 1
	}
}

// SortByOrder 按 order 升序排列
func (mc *MacroChain) SortByOrder() {
	sort.SliceStable(mc.Scenes, func(i, j int) bool {
		return mc.Scenes[i].Order < mc.Scenes[j].Order
	})
}

// SceneDetail 一个场景的细节
type SceneDetail struct {
	SceneID      string            `json:"sceneId"`
	Sequence     int               `json:"sequence"`
	Title        string            `json:"title"`
	Objective    string            `json:"objective"`
	KeyEvents    []string          `json:"keyEvents"`
	RevealedInfo []string          `json:"revealedInfo"`
	StateChanges map[string]any    `json:"stateChanges"`
	ContextOut   *EffectiveContext `json:"contextOut,omitempty"`

	EpicIntro   string   `json:"epicIntro,omitempty"`
	Setting     string   `json:"setting,omitempty"`
	Atmosphere  string   `json:"atmosphere,omitempty"`
	GMNarrative string   `json:"gmNarrative,omitempty"`
	Beats       []string `json:"beats,omitempty"`
	Rewards     []string `json:"rewards,omitempty"`

	Status             SceneStatus      `json:"status"`
	Version            int64            `json:"version"`
	Uses               *VersionSnapshot `json:"uses,omitempty"`
	InvalidationReason string           `json:"invalidationReason,omitempty"`
	LastUpdatedAt      time.Time        `json:"lastUpdatedAt"`
	LockedAt           *time.Time       `json:"lockedAt,omitempty"`
}

// Normalize 保证列表与映射字段非 nil
func (sd *SceneDetail) Normalize() {
	if sd.KeyEvents == nil {
		sd.KeyEvents = []string{}
	}
	if sd.RevealedInfo == nil {
		sd.RevealedInfo = []string{}
	}
	if sd.StateChanges == nil {
		sd.StateChanges = map[string]any{}
	}
	if sd.ContextOut != nil {
		sd.ContextOut.Normalize()
	}
}

// IsLocked 场景是否已锁定
func (sd *SceneDetail) IsLocked() bool {
	return sd != nil && sd.Status == SceneLocked
}
