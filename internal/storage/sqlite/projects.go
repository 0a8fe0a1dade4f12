package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/storage"
)

var _ storage.ProjectStore = (*Store)(nil)

// ListProjects returns every project ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT project_id, title, created_at, updated_at
FROM projects
ORDER BY created_at, project_id
`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []models.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

// GetProject loads one project.
func (s *Store) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT project_id, title, created_at, updated_at
FROM projects
WHERE project_id = ?
`, projectID)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// SaveProject inserts or replaces a project.
func (s *Store) SaveProject(ctx context.Context, project *models.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if project == nil {
		return fmt.Errorf("project is required")
	}
	if err := storage.ValidateProjectID(project.ID); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO projects (project_id, title, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(project_id) DO UPDATE SET
    title = excluded.title,
    updated_at = excluded.updated_at
`,
		project.ID,
		project.Title,
		project.CreatedAt.UTC().UnixMilli(),
		project.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

// DeleteProject removes a project and returns the deleted record.
func (s *Store) DeleteProject(ctx context.Context, projectID string) (*models.Project, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("delete project rows affected: %w", err)
	}
	if affected == 0 {
		return nil, storage.ErrProjectNotFound
	}
	return project, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (models.Project, error) {
	var (
		project              models.Project
		createdAt, updatedAt int64
	)
	if err := row.Scan(&project.ID, &project.Title, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Project{}, err
		}
		return models.Project{}, fmt.Errorf("scan project: %w", err)
	}
	project.CreatedAt = time.UnixMilli(createdAt).UTC()
	project.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return project, nil
}
