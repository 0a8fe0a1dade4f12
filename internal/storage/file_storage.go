// internal/storage/file_storage.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/SceneForge/internal/models"
	"github.com/Corphon/SceneForge/internal/utils"
)

const (
	sessionsDir   = "sessions"
	sessionSuffix = ".json"
	projectsFile  = "projects.json"
)

// FileStorage 每个会话一个 JSON 文件，写入采用临时文件 + 重命名。
// 文件锁只在进程内有效，同一目录只支持一个写入进程。
type FileStorage struct {
	BaseDir string

	// 并发控制
	fileLocks  sync.Map   // 文件级别锁 path -> *sync.RWMutex
	projectsMu sync.Mutex // projects.json 整体读改写

	// 简单缓存
	cache        map[string]*CacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// CacheEntry 缓存条目，ModTime 和 Size 与磁盘文件一致时才有效
type CacheEntry struct {
	Data      []byte
	Timestamp time.Time
	ModTime   time.Time
	Size      int64
}

var _ Backend = (*FileStorage)(nil)

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("存储目录不能为空")
	}
	if err := os.MkdirAll(filepath.Join(baseDir, sessionsDir), 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	fs := &FileStorage{
		BaseDir:      baseDir,
		cache:        make(map[string]*CacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 100,
		stopCleanup:  make(chan struct{}),
	}

	// 启动缓存清理
	go fs.runCacheCleanup(2 * time.Minute)

	return fs, nil
}

func (fs *FileStorage) sessionPath(sessionID string) string {
	return filepath.Join(fs.BaseDir, sessionsDir, sessionID+sessionSuffix)
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// Get 读取会话
func (fs *FileStorage) Get(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, ErrNotFound
	}
	fullPath := fs.sessionPath(sessionID)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	content, err := fs.readFile(fullPath)
	lock.RUnlock()
	if err != nil {
		return nil, err
	}
	return DecodeSession(content)
}

// Put 在文件锁内比较当前版本后原子写入
func (fs *FileStorage) Put(ctx context.Context, sc *models.SessionContext, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckPut(sc, expectedVersion); err != nil {
		return err
	}
	content, err := EncodeSession(sc)
	if err != nil {
		return err
	}
	fullPath := fs.sessionPath(sc.SessionID)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	current, err := fs.currentVersion(fullPath)
	if err != nil {
		return err
	}
	if current != expectedVersion {
		return ErrVersionConflict
	}
	return fs.writeAtomic(fullPath, content)
}

// currentVersion 版本比较总是读磁盘，不经过缓存
func (fs *FileStorage) currentVersion(fullPath string) (int64, error) {
	content, err := readFromDisk(fullPath)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	sc, err := DecodeSession(content)
	if err != nil {
		return 0, err
	}
	return sc.Version, nil
}

// List 列出 sessions 目录下的所有会话
func (fs *FileStorage) List(ctx context.Context) ([]SessionSummary, error) {
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, sessionsDir))
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	out := []SessionSummary{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sessionSuffix) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), sessionSuffix)
		sc, err := fs.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("读取会话 %s 失败: %w", id, err)
		}
		out = append(out, SessionSummary{SessionID: sc.SessionID, Version: sc.Version, UpdatedAt: sc.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Close 停止缓存清理
func (fs *FileStorage) Close() error {
	fs.closeOnce.Do(func() { close(fs.stopCleanup) })
	return nil
}

// writeAtomic 原子性文件写入，调用方持有文件锁
func (fs *FileStorage) writeAtomic(fullPath string, content []byte) error {
	tempPath := fullPath + ".tmp"

	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			utils.GetLogger().Warn("清理临时文件失败", map[string]interface{}{
				"path":  tempPath,
				"error": removeErr.Error(),
			})
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	fs.invalidateCache(fullPath)
	return nil
}

// readFile 文件未变化时返回缓存内容，否则读文件，调用方持有文件锁
func (fs *FileStorage) readFile(fullPath string) ([]byte, error) {
	info, err := os.Stat(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		fs.invalidateCache(fullPath)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	fs.cacheMutex.RLock()
	entry, exists := fs.cache[fullPath]
	fs.cacheMutex.RUnlock()
	if exists && time.Since(entry.Timestamp) < fs.cacheExpiry &&
		entry.ModTime.Equal(info.ModTime()) && entry.Size == info.Size() {
		return entry.Data, nil
	}

	content, err := readFromDisk(fullPath)
	if err != nil {
		return nil, err
	}
	fs.updateCache(fullPath, content, info)
	return content, nil
}

func readFromDisk(fullPath string) ([]byte, error) {
	content, err := os.ReadFile(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return content, nil
}

// 缓存管理
func (fs *FileStorage) updateCache(path string, data []byte, info os.FileInfo) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	fs.cache[path] = &CacheEntry{
		Data:      data,
		Timestamp: time.Now(),
		ModTime:   info.ModTime(),
		Size:      info.Size(),
	}
}

func (fs *FileStorage) runCacheCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.stopCleanup:
			return
		case <-ticker.C:
			fs.cleanupExpiredCache()
			fs.enforceMaxCacheSize()
		}
	}
}

// 清理过期缓存
func (fs *FileStorage) cleanupExpiredCache() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	now := time.Now()
	for path, entry := range fs.cache {
		if now.Sub(entry.Timestamp) > fs.cacheExpiry {
			delete(fs.cache, path)
		}
	}
}

// enforceMaxCacheSize 超过上限时移除最旧的条目
func (fs *FileStorage) enforceMaxCacheSize() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	if len(fs.cache) <= fs.maxCacheSize {
		return
	}

	type cacheEntryWithTime struct {
		key       string
		timestamp time.Time
	}
	entries := make([]cacheEntryWithTime, 0, len(fs.cache))
	for key, entry := range fs.cache {
		entries = append(entries, cacheEntryWithTime{key: key, timestamp: entry.Timestamp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp.Before(entries[j].timestamp)
	})

	removeCount := len(entries) - fs.maxCacheSize
	for i := 0; i < removeCount; i++ {
		delete(fs.cache, entries[i].key)
	}
	utils.GetLogger().Debug("缓存大小限制执行", map[string]interface{}{"removed": removeCount})
}

// invalidateCache 清除指定路径的缓存
func (fs *FileStorage) invalidateCache(path string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	delete(fs.cache, path)
}

// 项目登记表：BaseDir/projects.json 中的一个数组

func (fs *FileStorage) projectsPath() string {
	return filepath.Join(fs.BaseDir, projectsFile)
}

// loadProjects 调用方持有 projectsMu
func (fs *FileStorage) loadProjects() ([]models.Project, error) {
	content, err := readFromDisk(fs.projectsPath())
	if errors.Is(err, ErrNotFound) {
		return []models.Project{}, nil
	}
	if err != nil {
		return nil, err
	}
	var projects []models.Project
	if err := json.Unmarshal(content, &projects); err != nil {
		return nil, fmt.Errorf("解析项目列表失败: %w", err)
	}
	return projects, nil
}

// saveProjects 调用方持有 projectsMu
func (fs *FileStorage) saveProjects(projects []models.Project) error {
	sortProjects(projects)
	content, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化项目列表失败: %w", err)
	}
	return fs.writeAtomic(fs.projectsPath(), content)
}

func findProject(projects []models.Project, projectID string) int {
	for i, p := range projects {
		if p.ID == projectID {
			return i
		}
	}
	return -1
}

// ListProjects 列出所有项目
func (fs *FileStorage) ListProjects(ctx context.Context) ([]models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.projectsMu.Lock()
	defer fs.projectsMu.Unlock()

	projects, err := fs.loadProjects()
	if err != nil {
		return nil, err
	}
	sortProjects(projects)
	return projects, nil
}

// GetProject 读取项目
func (fs *FileStorage) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.projectsMu.Lock()
	defer fs.projectsMu.Unlock()

	projects, err := fs.loadProjects()
	if err != nil {
		return nil, err
	}
	idx := findProject(projects, projectID)
	if idx < 0 {
		return nil, ErrProjectNotFound
	}
	return &projects[idx], nil
}

// SaveProject 新增或覆盖项目
func (fs *FileStorage) SaveProject(ctx context.Context, project *models.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkProject(project); err != nil {
		return err
	}
	fs.projectsMu.Lock()
	defer fs.projectsMu.Unlock()

	projects, err := fs.loadProjects()
	if err != nil {
		return err
	}
	if idx := findProject(projects, project.ID); idx >= 0 {
		projects[idx] = *project
	} else {
		projects = append(projects, *project)
	}
	return fs.saveProjects(projects)
}

// DeleteProject 删除项目并返回被删除的记录
func (fs *FileStorage) DeleteProject(ctx context.Context, projectID string) (*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.projectsMu.Lock()
	defer fs.projectsMu.Unlock()

	projects, err := fs.loadProjects()
	if err != nil {
		return nil, err
	}
	idx := findProject(projects, projectID)
	if idx < 0 {
		return nil, ErrProjectNotFound
	}
	deleted := projects[idx]
	projects = append(projects[:idx], projects[idx+1:]...)
	if err := fs.saveProjects(projects); err != nil {
		return nil, err
	}
	return &deleted, nil
}
