// internal/services/export_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Corphon/SceneForge/internal/engine"
	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/models"
)

// 支持的导出格式
const (
	ExportJSON     = "json"
	ExportMarkdown = "markdown"
	ExportText     = "txt"
)

var supportedExportFormats = []string{ExportJSON, ExportMarkdown, ExportText}

// ExportResult 一次导出的结果
type ExportResult struct {
	SessionID   string    `json:"sessionId"`
	Version     int64     `json:"version"`
	Format      string    `json:"format"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generatedAt"`
	FilePath    string    `json:"filePath,omitempty"`
	FileSize    int64     `json:"fileSize,omitempty"`
}

// ExportService 把会话的已生成内容导出为文档
type ExportService struct {
	sessions  *SessionService
	exportDir string
}

// NewExportService 创建导出服务，exportDir 为空时不落盘
func NewExportService(sessions *SessionService, exportDir string) *ExportService {
	return &ExportService{sessions: sessions, exportDir: exportDir}
}

// ExportSession 导出会话的背景、角色、宏观链和场景细节
func (s *ExportService) ExportSession(ctx context.Context, sessionID, format string) (*ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportMarkdown
	}
	if !slices.Contains(supportedExportFormats, format) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("unsupported export format %q, supported: %v", format, supportedExportFormats), nil).WithField("format")
	}

	sc, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sc.Version == 0 {
		return nil, apperrors.NewNotFoundError("session has no content to export", nil).WithField(sessionID)
	}

	var content string
	switch format {
	case ExportJSON:
		content, err = formatSessionAsJSON(sc)
	case ExportMarkdown:
		content = formatSessionAsMarkdown(sc)
	case ExportText:
		content = formatSessionAsText(sc)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to format export", err)
	}

	result := &ExportResult{
		SessionID:   sessionID,
		Version:     sc.Version,
		Format:      format,
		Content:     content,
		GeneratedAt: s.sessions.clock(),
	}
	if s.exportDir != "" {
		if err := s.saveExport(result); err != nil {
			return nil, apperrors.NewPersistenceError("failed to save export", err)
		}
	}
	return result, nil
}

// saveExport 写入 exportDir，文件名带会话版本
func (s *ExportService) saveExport(result *ExportResult) error {
	if err := os.MkdirAll(s.exportDir, 0755); err != nil {
		return fmt.Errorf("创建导出目录失败: %w", err)
	}
	ext := result.Format
	if ext == ExportMarkdown {
		ext = "md"
	}
	fileName := fmt.Sprintf("%s_v%d_%s.%s", result.SessionID, result.Version, result.GeneratedAt.Format("20060102_150405"), ext)
	filePath := filepath.Join(s.exportDir, fileName)
	if err := os.WriteFile(filePath, []byte(result.Content), 0644); err != nil {
		return fmt.Errorf("写入导出文件失败: %w", err)
	}
	result.FilePath = filePath
	result.FileSize = int64(len(result.Content))
	return nil
}

// exportedScenes 当前链的场景顺序，没有链时按序号排列已有细节
func exportedScenes(sc *models.SessionContext) []string {
	if chain := sc.CurrentChain(); chain != nil {
		ids := make([]string, 0, len(chain.Scenes))
		for _, scene := range chain.Scenes {
			ids = append(ids, scene.ID)
		}
		return ids
	}
	return sortedSceneIDs(sc)
}

func formatSessionAsJSON(sc *models.SessionContext) (string, error) {
	scenes := make([]*models.SceneDetail, 0, len(sc.SceneDetails))
	for _, id := range exportedScenes(sc) {
		if detail := sc.SceneDetails[id]; detail != nil {
			scenes = append(scenes, detail)
		}
	}
	exportData := map[string]interface{}{
		"session_id": sc.SessionID,
		"version":    sc.Version,
		"meta":       sc.Meta,
		"background": sc.Blocks.Background,
		"characters": sc.Blocks.Characters,
		"chain":      sc.CurrentChain(),
		"scenes":     scenes,
		"export_info": map[string]interface{}{
			"format":  ExportJSON,
			"schema":  models.SchemaVersion,
			"context": engine.BuildEffectiveContext(sc, len(sc.SceneDetails)+1),
		},
	}
	data, err := json.MarshalIndent(exportData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("JSON序列化失败: %w", err)
	}
	return string(data), nil
}

func writeList(content *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	content.WriteString(fmt.Sprintf("- **%s**: %s\n", label, strings.Join(items, "; ")))
}

func formatSessionAsMarkdown(sc *models.SessionContext) string {
	var content strings.Builder

	content.WriteString(fmt.Sprintf("# Session %s\n\n", sc.SessionID))
	content.WriteString(fmt.Sprintf("- **Version**: %d\n", sc.Version))
	content.WriteString(fmt.Sprintf("- **Updated**: %s\n\n", sc.UpdatedAt.Format("2006-01-02 15:04:05")))

	if bg := sc.Blocks.Background; bg != nil {
		content.WriteString("## Background\n\n")
		if sc.Locks[models.BlockBackground] {
			content.WriteString("_locked_\n\n")
		}
		content.WriteString(bg.Premise + "\n\n")
		writeList(&content, "Tone", bg.ToneRules)
		writeList(&content, "Stakes", bg.Stakes)
		writeList(&content, "Mysteries", bg.Mysteries)
		writeList(&content, "Factions", bg.Factions)
		writeList(&content, "Motifs", bg.Motifs)
		content.WriteString("\n")
	}

	if chars := sc.Blocks.Characters; chars != nil && len(chars.Characters) > 0 {
		content.WriteString("## Characters\n\n")
		for _, ch := range chars.Characters {
			line := fmt.Sprintf("- **%s**", ch.Name)
			if ch.Role != "" {
				line += " (" + ch.Role + ")"
			}
			if ch.Motivation != "" {
				line += ": " + ch.Motivation
			}
			content.WriteString(line + "\n")
		}
		content.WriteString("\n")
	}

	chain := sc.CurrentChain()
	if chain != nil {
		content.WriteString(fmt.Sprintf("## Macro Chain (%s, v%d)\n\n", chain.Status, chain.Version))
		for _, scene := range chain.Scenes {
			content.WriteString(fmt.Sprintf("%d. **%s**: %s\n", scene.Order, scene.Title, scene.Objective))
		}
		content.WriteString("\n")
	}

	for _, id := range exportedScenes(sc) {
		detail := sc.SceneDetails[id]
		if detail == nil {
			continue
		}
		content.WriteString(fmt.Sprintf("## Scene %d: %s\n\n", detail.Sequence, detail.Title))
		content.WriteString(fmt.Sprintf("_%s, v%d_", detail.Status, detail.Version))
		if detail.InvalidationReason != "" {
			content.WriteString(" (" + detail.InvalidationReason + ")")
		}
		content.WriteString("\n\n")
		if detail.Objective != "" {
			content.WriteString("**Objective**: " + detail.Objective + "\n\n")
		}
		if detail.GMNarrative != "" {
			content.WriteString(detail.GMNarrative + "\n\n")
		}
		writeList(&content, "Key events", detail.KeyEvents)
		writeList(&content, "Revealed", detail.RevealedInfo)
		writeList(&content, "Beats", detail.Beats)
		content.WriteString("\n")
	}

	return content.String()
}

func formatSessionAsText(sc *models.SessionContext) string {
	var content strings.Builder

	content.WriteString(fmt.Sprintf("SESSION %s (version %d)\n", sc.SessionID, sc.Version))
	content.WriteString(strings.Repeat("=", 40) + "\n\n")

	if bg := sc.Blocks.Background; bg != nil {
		content.WriteString("BACKGROUND\n")
		content.WriteString(bg.Premise + "\n\n")
	}
	if chars := sc.Blocks.Characters; chars != nil {
		content.WriteString("CHARACTERS\n")
		for _, ch := range chars.Characters {
			content.WriteString(fmt.Sprintf("  %s - %s\n", ch.Name, ch.Role))
		}
		content.WriteString("\n")
	}
	for _, id := range exportedScenes(sc) {
		detail := sc.SceneDetails[id]
		if detail == nil {
			continue
		}
		content.WriteString(fmt.Sprintf("SCENE %d: %s [%s]\n", detail.Sequence, detail.Title, detail.Status))
		for _, event := range detail.KeyEvents {
			content.WriteString("  * " + event + "\n")
		}
		content.WriteString("\n")
	}
	return content.String()
}
