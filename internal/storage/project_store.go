// internal/storage/project_store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Corphon/SceneForge/internal/models"
)

// ErrProjectNotFound 项目不存在
var ErrProjectNotFound = errors.New("project not found")

// ProjectStore 项目登记表。项目只是会话之上的分组标签，没有版本控制，后写覆盖先写。
type ProjectStore interface {
	ListProjects(ctx context.Context) ([]models.Project, error)
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	SaveProject(ctx context.Context, project *models.Project) error
	DeleteProject(ctx context.Context, projectID string) (*models.Project, error)
}

// Backend 同时保存会话和项目的存储后端
type Backend interface {
	SessionStore
	ProjectStore
}

// ValidateProjectID 项目ID与会话ID使用相同的字符集
func ValidateProjectID(projectID string) error {
	if !sessionIDPattern.MatchString(projectID) {
		return fmt.Errorf("invalid project id %q", projectID)
	}
	return nil
}

func checkProject(project *models.Project) error {
	if project == nil {
		return fmt.Errorf("project is required")
	}
	return ValidateProjectID(project.ID)
}

// sortProjects 按创建时间升序，同一时间按ID
func sortProjects(projects []models.Project) {
	sort.Slice(projects, func(i, j int) bool {
		if !projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].CreatedAt.Before(projects[j].CreatedAt)
		}
		return projects[i].ID < projects[j].ID
	})
}
