// internal/services/character_sheet_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
)

var sheetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ListCharacterSheets 返回会话中保存的角色卡，不存在的会话返回空列表
func (s *SessionService) ListCharacterSheets(ctx context.Context, sessionID string) ([]models.CharacterSheet, error) {
	sc, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sc.CharacterSheets == nil {
		return []models.CharacterSheet{}, nil
	}
	return sc.CharacterSheets, nil
}

// SaveCharacterSheet 按ID新增或替换角色卡。
// 角色卡不参与生成流水线，保存不会使任何产物失效。
func (s *SessionService) SaveCharacterSheet(ctx context.Context, sessionID, sheetID string, payload json.RawMessage) (*models.CharacterSheet, error) {
	if !sheetIDPattern.MatchString(sheetID) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid character sheet id %q", sheetID), nil).WithField("sheetId")
	}
	var fields map[string]json.RawMessage
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &fields) != nil {
		return nil, apperrors.NewValidationError("character sheet must be a JSON object", nil).WithField("sheet")
	}
	var name string
	if raw, ok := fields["name"]; ok {
		_ = json.Unmarshal(raw, &name)
	}

	var saved models.CharacterSheet
	_, err := s.mutate(ctx, sessionID, func(m *mutation) error {
		sc := m.sc
		sheet := models.CharacterSheet{
			ID:        sheetID,
			Name:      strings.TrimSpace(name),
			Sheet:     append(json.RawMessage(nil), trimmed...),
			CreatedAt: m.now,
			UpdatedAt: m.now,
		}
		if i := sc.FindCharacterSheet(sheetID); i >= 0 {
			sheet.CreatedAt = sc.CharacterSheets[i].CreatedAt
			sc.CharacterSheets[i] = sheet
		} else {
			sc.CharacterSheets = append(sc.CharacterSheets, sheet)
		}
		saved = sheet
		m.emit(EventCharacterSheetSaved, map[string]string{"sheetId": sheetID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	utils.GetLogger().Debug("character sheet saved", map[string]interface{}{
		"session_id": sessionID,
		"sheet_id":   sheetID,
	})
	return &saved, nil
}

// DeleteCharacterSheet 删除角色卡，不存在时返回 NOT_FOUND
func (s *SessionService) DeleteCharacterSheet(ctx context.Context, sessionID, sheetID string) (*models.SessionContext, error) {
	return s.mutate(ctx, sessionID, func(m *mutation) error {
		sc := m.sc
		i := sc.FindCharacterSheet(sheetID)
		if i < 0 {
			return apperrors.NewNotFoundError(fmt.Sprintf("character sheet %s not found", sheetID), nil).WithField("sheetId")
		}
		sc.CharacterSheets = append(sc.CharacterSheets[:i], sc.CharacterSheets[i+1:]...)
		if len(sc.CharacterSheets) == 0 {
			sc.CharacterSheets = nil
		}
		m.emit(EventCharacterSheetDeleted, map[string]string{"sheetId": sheetID})
		return nil
	})
}
