// internal/storage/memory_store.go
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/Corphon/SceneForge/internal/models"
)

// MemoryStore 进程内存储，保存编码后的记录，读取时总是返回新的副本
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]byte
	versions map[string]int64
	projects map[string]models.Project
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string][]byte),
		versions: make(map[string]int64),
		projects: make(map[string]models.Project),
	}
}

// Get 读取会话
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.records[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return DecodeSession(data)
}

// Put 比较版本后写入
func (s *MemoryStore) Put(ctx context.Context, sc *models.SessionContext, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckPut(sc, expectedVersion); err != nil {
		return err
	}
	data, err := EncodeSession(sc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions[sc.SessionID] != expectedVersion {
		return ErrVersionConflict
	}
	s.records[sc.SessionID] = data
	s.versions[sc.SessionID] = sc.Version
	return nil
}

// List 按会话ID排序列出所有会话
func (s *MemoryStore) List(ctx context.Context) ([]SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SessionSummary, 0, len(s.records))
	for id, data := range s.records {
		sc, err := DecodeSession(data)
		if err != nil {
			return nil, err
		}
		out = append(out, SessionSummary{SessionID: id, Version: sc.Version, UpdatedAt: sc.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Close 内存存储无需释放资源
func (s *MemoryStore) Close() error { return nil }

// ListProjects 列出所有项目
func (s *MemoryStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sortProjects(out)
	return out, nil
}

// GetProject 读取项目
func (s *MemoryStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return &p, nil
}

// SaveProject 新增或覆盖项目
func (s *MemoryStore) SaveProject(ctx context.Context, project *models.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkProject(project); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[project.ID] = *project
	return nil
}

// DeleteProject 删除项目并返回被删除的记录
func (s *MemoryStore) DeleteProject(ctx context.Context, projectID string) (*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, ErrProjectNotFound
	}
	delete(s.projects, projectID)
	return &p, nil
}
