// internal/storage/store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
)

var (
	// ErrNotFound 会话不存在
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict 写入时存储中的版本与调用方读取时的版本不一致
	ErrVersionConflict = errors.New("session version conflict")
)

// SessionSummary 会话列表条目
type SessionSummary struct {
	SessionID string    `json:"sessionId"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionStore 会话记录的唯一持久化入口。
// Put 是基于 version 的比较并交换：expectedVersion 必须等于存储中的当前版本
// （新会话为 0），否则返回 ErrVersionConflict，不做任何合并。
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*models.SessionContext, error)
	Put(ctx context.Context, sc *models.SessionContext, expectedVersion int64) error
	List(ctx context.Context) ([]SessionSummary, error)
	Close() error
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateSessionID 会话ID会被用作文件名和主键
func ValidateSessionID(sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	return nil
}

// CheckPut 所有后端在写入前做的参数检查
func CheckPut(sc *models.SessionContext, expectedVersion int64) error {
	if sc == nil {
		return fmt.Errorf("session is required")
	}
	if err := ValidateSessionID(sc.SessionID); err != nil {
		return err
	}
	if sc.Version <= expectedVersion {
		return fmt.Errorf("session %s version %d must be greater than %d", sc.SessionID, sc.Version, expectedVersion)
	}
	return nil
}
