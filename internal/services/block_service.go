// internal/services/block_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/Corphon/SceneForge/internal/engine"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/generation"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
)

var blockNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ParseBlockName 校验客户端提交的块类型名。未知但格式合法的名称也被接受。
func ParseBlockName(name string) (models.BlockType, error) {
	if bt, ok := models.ParseBlockType(name); ok {
		return bt, nil
	}
	if !blockNamePattern.MatchString(name) {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid block type %q", name), nil).WithField("blockType")
	}
	return models.BlockType(name), nil
}

// BlockChange 块变更的结果
type BlockChange struct {
	Session      *models.SessionContext `json:"session"`
	BlockType    models.BlockType       `json:"blockType"`
	Invalidation engine.Invalidation    `json:"invalidation"`
}

// AppendBlock 按块类型的合并策略追加数据。
// background 和 characters 的变化会使下游产物失效，锁状态不变。
func (s *SessionService) AppendBlock(ctx context.Context, sessionID string, bt models.BlockType, payload json.RawMessage) (*BlockChange, error) {
	change := &BlockChange{BlockType: bt}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		inv, err := applyBlock(m, bt, payload, "client")
		change.Invalidation = inv
		return err
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	return change, nil
}

func applyBlock(m *mutation, bt models.BlockType, payload json.RawMessage, source string) (engine.Invalidation, error) {
	merged, err := engine.MergeBlock(m.sc.Blocks, bt, payload)
	if err != nil {
		return engine.Invalidation{}, err
	}
	m.sc.Blocks = merged
	inv := engine.OnBlockChanged(m.sc, bt, m.now)

	m.emit(EventBlockAppended, map[string]interface{}{"blockType": bt, "source": source})
	m.emitInvalidation(inv)
	utils.GetLogger().Info("block updated", map[string]interface{}{
		"session_id":  m.sc.SessionID,
		"block_type":  bt,
		"source":      source,
		"invalidated": len(inv.ScenesInvalidated),
	})
	return inv, nil
}

// LockBlock 锁定一个已存在的块，已锁定时不写入
func (s *SessionService) LockBlock(ctx context.Context, sessionID string, bt models.BlockType) (*models.SessionContext, error) {
	return s.mutate(ctx, sessionID, func(m *mutation) error {
		if !m.sc.Blocks.Has(bt) {
			return apperrors.NewNotFoundError(fmt.Sprintf("block %s has no content to lock", bt), nil).WithField("blockType")
		}
		if engine.IsBlockLocked(m.sc, bt) {
			return errNoChange
		}
		engine.LockBlock(m.sc, bt)
		if bt == models.BlockCharacters {
			now := m.now
			m.sc.Blocks.Characters.LockedAt = &now
		}
		m.emit(EventBlockLocked, map[string]interface{}{"blockType": bt})
		return nil
	})
}

// UnlockBlock 解锁一个块，未锁定时不写入
func (s *SessionService) UnlockBlock(ctx context.Context, sessionID string, bt models.BlockType) (*models.SessionContext, error) {
	return s.mutate(ctx, sessionID, func(m *mutation) error {
		if !engine.IsBlockLocked(m.sc, bt) {
			return errNoChange
		}
		engine.UnlockBlock(m.sc, bt)
		if bt == models.BlockCharacters && m.sc.Blocks.Characters != nil {
			m.sc.Blocks.Characters.LockedAt = nil
		}
		m.emit(EventBlockUnlocked, map[string]interface{}{"blockType": bt})
		return nil
	})
}

func requireUnlocked(sc *models.SessionContext, bt models.BlockType) error {
	if engine.IsBlockLocked(sc, bt) {
		return apperrors.NewLockConflictError(fmt.Sprintf("%s is locked; unlock it before changing it", bt)).WithField(string(bt))
	}
	return nil
}

// GenerateBackground 生成并写入背景块
func (s *SessionService) GenerateBackground(ctx context.Context, sessionID string, hints json.RawMessage) (*BlockChange, error) {
	change := &BlockChange{BlockType: models.BlockBackground}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		if err := requireUnlocked(m.sc, models.BlockBackground); err != nil {
			return err
		}
		data, err := s.generate(ctx, generation.Request{
			Kind:      generation.KindBackground,
			SessionID: sessionID,
			Context:   engine.ProjectForPrompt(m.sc),
			Hints:     hints,
		})
		if err != nil {
			return err
		}
		change.Invalidation, err = applyBlock(m, models.BlockBackground, data, "generated")
		return err
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	return change, nil
}

// GenerateCharacters 基于已锁定的背景生成角色，替换整个角色块
func (s *SessionService) GenerateCharacters(ctx context.Context, sessionID string, hints json.RawMessage) (*BlockChange, error) {
	change := &BlockChange{BlockType: models.BlockCharacters}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		if check := engine.CanGenerateCharacters(m.sc); !check.OK {
			return apperrors.NewLockConflictError(check.Reason)
		}
		if err := requireUnlocked(m.sc, models.BlockCharacters); err != nil {
			return err
		}
		data, err := s.generate(ctx, generation.Request{
			Kind:      generation.KindCharacters,
			SessionID: sessionID,
			Context:   engine.ProjectForPrompt(m.sc),
			Hints:     hints,
		})
		if err != nil {
			return err
		}
		var block models.CharactersBlock
		if err := json.Unmarshal(data, &block); err != nil {
			return apperrors.NewGenerationFailure("generated characters could not be decoded", err)
		}
		for i := range block.Characters {
			if block.Characters[i].ID == "" {
				block.Characters[i].ID = uuid.NewString()
			}
			block.Characters[i].Status = "generated"
		}
		change.Invalidation, err = writeCharacters(m, block.Characters, "generated")
		return err
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	return change, nil
}

func writeCharacters(m *mutation, list []models.Character, source string) (engine.Invalidation, error) {
	if list == nil {
		list = []models.Character{}
	}
	data, err := json.Marshal(models.CharactersBlock{Characters: list})
	if err != nil {
		return engine.Invalidation{}, apperrors.NewValidationError("characters could not be encoded", err)
	}
	return applyBlock(m, models.BlockCharacters, data, source)
}

// UpsertCharacter 新增或替换单个角色，视为角色块的一次变化
func (s *SessionService) UpsertCharacter(ctx context.Context, sessionID, characterID string, payload json.RawMessage) (*BlockChange, error) {
	var character models.Character
	if err := json.Unmarshal(payload, &character); err != nil {
		return nil, apperrors.NewValidationError("invalid character data", err).WithField("data")
	}
	if character.Name == "" {
		return nil, apperrors.NewValidationError("character name is required", nil).WithField("name")
	}
	if characterID == "" {
		characterID = character.ID
	}
	if characterID == "" {
		characterID = uuid.NewString()
	}
	character.ID = characterID
	character.Status = "saved"

	change := &BlockChange{BlockType: models.BlockCharacters}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		if err := requireUnlocked(m.sc, models.BlockCharacters); err != nil {
			return err
		}
		var list []models.Character
		if m.sc.Blocks.Characters != nil {
			list = append(list, m.sc.Blocks.Characters.Characters...)
		}
		if idx := m.sc.Blocks.Characters.Find(characterID); idx >= 0 {
			list[idx] = character
		} else {
			list = append(list, character)
		}
		var err error
		change.Invalidation, err = writeCharacters(m, list, "client")
		return err
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	return change, nil
}

// DeleteCharacter 删除单个角色
func (s *SessionService) DeleteCharacter(ctx context.Context, sessionID, characterID string) (*BlockChange, error) {
	change := &BlockChange{BlockType: models.BlockCharacters}
	sc, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		if err := requireUnlocked(m.sc, models.BlockCharacters); err != nil {
			return err
		}
		idx := m.sc.Blocks.Characters.Find(characterID)
		if idx < 0 {
			return apperrors.NewNotFoundError("character not found", nil).WithField(characterID)
		}
		current := m.sc.Blocks.Characters.Characters
		list := make([]models.Character, 0, len(current)-1)
		list = append(list, current[:idx]...)
		list = append(list, current[idx+1:]...)
		var err error
		change.Invalidation, err = writeCharacters(m, list, "client")
		return err
	})
	if err != nil {
		return nil, err
	}
	change.Session = sc
	return change, nil
}
