// internal/services/events.go
package services

import "time"

// EventType 会话事件类型
type EventType string

const (
	EventBlockAppended         EventType = "block_appended"
	EventBlockLocked           EventType = "block_locked"
	EventBlockUnlocked         EventType = "block_unlocked"
	EventArtifactsInvalidated  EventType = "artifacts_invalidated"
	EventChainGenerated        EventType = "chain_generated"
	EventChainEdited           EventType = "chain_edited"
	EventChainLocked           EventType = "chain_locked"
	EventChainUnlocked         EventType = "chain_unlocked"
	EventSceneGenerated        EventType = "scene_generated"
	EventSceneEdited           EventType = "scene_edited"
	EventSceneLocked           EventType = "scene_locked"
	EventSceneUnlocked         EventType = "scene_unlocked"
	EventSessionCleared        EventType = "session_cleared"
	EventCharacterSheetSaved   EventType = "character_sheet_saved"
	EventCharacterSheetDeleted EventType = "character_sheet_deleted"
)

// SessionEvent 一次成功写入后发布的事件
type SessionEvent struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"sessionId"`
	Version   int64       `json:"version"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventPublisher 接收会话事件，实现不能阻塞调用方
type EventPublisher interface {
	Publish(event SessionEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(SessionEvent) {}
