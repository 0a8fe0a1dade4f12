// internal/models/session.go
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion 当前会话记录的结构版本，加载时低于此版本的记录会被升级
const SchemaVersion = 2

// SessionContext 一个会话的完整状态，由 SessionStore 独占持久化
type SessionContext struct {
	SessionID       string                  `json:"sessionId"`
	SchemaVersion   int                     `json:"schemaVersion"`
	Blocks          Blocks                  `json:"blocks"`
	Locks           map[BlockType]bool      `json:"locks"`
	Meta            Meta                    `json:"meta"`
	MacroChains     map[string]*MacroChain  `json:"macroChains"`
	CurrentChainID  string                  `json:"currentChainId,omitempty"`
	SceneDetails    map[string]*SceneDetail `json:"sceneDetails"`
	CharacterSheets []CharacterSheet        `json:"characterSheets,omitempty"`
	Version         int64                   `json:"version"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

// Meta 版本计数器，只增不减
type Meta struct {
	BackgroundV    int64     `json:"backgroundV"`
	CharactersV    int64     `json:"charactersV"`
	MacroSnapshotV int64     `json:"macroSnapshotV"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Snapshot 返回当前计数器快照
func (m Meta) Snapshot() VersionSnapshot {
	return VersionSnapshot{
		BackgroundV:    m.BackgroundV,
		CharactersV:    m.CharactersV,
		MacroSnapshotV: m.MacroSnapshotV,
	}
}

// VersionSnapshot 生成产物时生效的计数器
type VersionSnapshot struct {
	BackgroundV    int64 `json:"backgroundV"`
	CharactersV    int64 `json:"charactersV"`
	MacroSnapshotV int64 `json:"macroSnapshotV"`
}

// NewSessionContext 创建空会话
func NewSessionContext(sessionID string, now time.Time) *SessionContext {
	sc := &SessionContext{
		SessionID:     sessionID,
		SchemaVersion: SchemaVersion,
		Meta:          Meta{UpdatedAt: now},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sc.EnsureContainers()
	return sc
}

// EnsureContainers 保证所有 map 非空，便于就地修改
func (sc *SessionContext) EnsureContainers() {
	if sc.Locks == nil {
		sc.Locks = make(map[BlockType]bool)
	}
	if sc.MacroChains == nil {
		sc.MacroChains = make(map[string]*MacroChain)
	}
	if sc.SceneDetails == nil {
		sc.SceneDetails = make(map[string]*SceneDetail)
	}
	for _, detail := range sc.SceneDetails {
		if detail != nil {
			detail.Normalize()
		}
	}
}

// CurrentChain 返回当前宏观场景链，没有则为 nil
func (sc *SessionContext) CurrentChain() *MacroChain {
	if sc.CurrentChainID == "" {
		return nil
	}
	return sc.MacroChains[sc.CurrentChainID]
}

// FindCharacterSheet 返回指定ID角色卡的下标，不存在返回 -1
func (sc *SessionContext) FindCharacterSheet(id string) int {
	for i, sheet := range sc.CharacterSheets {
		if sheet.ID == id {
			return i
		}
	}
	return -1
}

// SceneBySequence 查找指定序号的场景细节
func (sc *SessionContext) SceneBySequence(sequence int) *SceneDetail {
	for _, detail := range sc.SceneDetails {
		if detail != nil && detail.Sequence == sequence {
			return detail
		}
	}
	return nil
}

// Clone 深拷贝会话，所有修改都在副本上进行，失败时原状态保持不变
func (sc *SessionContext) Clone() (*SessionContext, error) {
	data, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("序列化会话失败: %w", err)
	}
	var clone SessionContext
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("反序列化会话失败: %w", err)
	}
	clone.EnsureContainers()
	return &clone, nil
}
