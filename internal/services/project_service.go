// internal/services/project_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/utils"
)

// ProjectService 项目登记表，项目只是带标题的条目，不关联会话
type ProjectService struct {
	store storage.ProjectStore
	clock func() time.Time
}

// NewProjectService 创建项目服务，clock 为 nil 时使用当前 UTC 时间
func NewProjectService(store storage.ProjectStore, clock func() time.Time) *ProjectService {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &ProjectService{store: store, clock: clock}
}

func newProjectID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("project_%d_%s", now.UnixMilli(), suffix)
}

// CreateProject 标题去掉首尾空白后不能为空
func (p *ProjectService) CreateProject(ctx context.Context, title string) (*models.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", nil).WithField("title")
	}
	now := p.clock()
	project := &models.Project{
		ID:        newProjectID(now),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.SaveProject(ctx, project); err != nil {
		return nil, apperrors.NewPersistenceError("failed to save project", err)
	}
	utils.GetLogger().Info("project created", map[string]interface{}{
		"project_id": project.ID,
		"title":      project.Title,
	})
	return project, nil
}

// ListProjects 按创建时间排序
func (p *ProjectService) ListProjects(ctx context.Context) ([]models.Project, error) {
	projects, err := p.store.ListProjects(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to list projects", err)
	}
	if projects == nil {
		projects = []models.Project{}
	}
	return projects, nil
}

func (p *ProjectService) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	if err := storage.ValidateProjectID(projectID); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil).WithField("projectId")
	}
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, projectError(projectID, err)
	}
	return project, nil
}

// DeleteProject 返回被删除的项目
func (p *ProjectService) DeleteProject(ctx context.Context, projectID string) (*models.Project, error) {
	if err := storage.ValidateProjectID(projectID); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil).WithField("projectId")
	}
	project, err := p.store.DeleteProject(ctx, projectID)
	if err != nil {
		return nil, projectError(projectID, err)
	}
	utils.GetLogger().Info("project deleted", map[string]interface{}{"project_id": projectID})
	return project, nil
}

func projectError(projectID string, err error) error {
	if errors.Is(err, storage.ErrProjectNotFound) {
		return apperrors.NewNotFoundError(fmt.Sprintf("project %s not found", projectID), err)
	}
	return apperrors.NewPersistenceError("project store failed", err)
}
