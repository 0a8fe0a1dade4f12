package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/storage"
)

func TestProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewProjectService(storage.NewMemoryStore(), func() time.Time { return now })

	_, err := svc.CreateProject(ctx, "   ")
	assert.True(t, apperrors.IsValidationError(err))

	first, err := svc.CreateProject(ctx, "  Drowned City ")
	require.NoError(t, err)
	assert.Equal(t, "Drowned City", first.Title)
	assert.Regexp(t, regexp.MustCompile(`^project_1709294400000_[0-9a-f]{9}$`), first.ID)
	assert.Equal(t, now, first.CreatedAt)

	now = now.Add(time.Minute)
	second, err := svc.CreateProject(ctx, "Second")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	projects, err := svc.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, first.ID, projects[0].ID)

	got, err := svc.GetProject(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Title)

	deleted, err := svc.DeleteProject(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, deleted.ID)

	_, err = svc.GetProject(ctx, first.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
	_, err = svc.DeleteProject(ctx, first.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
	_, err = svc.GetProject(ctx, "../etc")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestListProjectsEmpty(t *testing.T) {
	svc := NewProjectService(storage.NewMemoryStore(), nil)
	projects, err := svc.ListProjects(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, projects)
	assert.Empty(t, projects)
}
