// internal/services/lock_manager.go
package services

import (
	"context"
	"sync"
	"time"
)

// LockManager 按会话ID分配的互斥锁。同一会话的所有修改在这里排队执行。
type LockManager struct {
	sessionLocks map[string]*LockInfo
	globalLock   sync.Mutex
	lockTimeout  time.Duration
	maxLocks     int

	cleanupTicker *time.Ticker
	stop          chan struct{}
	stopOnce      sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	sem            chan struct{}
	LastUsed       time.Time
	ReferenceCount int32 // 正在等待或持有此锁的调用数，大于0时不会被清理
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		sessionLocks: make(map[string]*LockInfo),
		lockTimeout:  30 * time.Minute,
		maxLocks:     200,
		stop:         make(chan struct{}),
	}

	// 启动清理器
	lm.startCleanup(5 * time.Minute)
	return lm
}

func (lm *LockManager) acquireInfo(sessionID string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.sessionLocks[sessionID]
	if !exists {
		info = &LockInfo{sem: make(chan struct{}, 1)}
		lm.sessionLocks[sessionID] = info
	}
	info.ReferenceCount++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) releaseInfo(info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info.ReferenceCount--
	info.LastUsed = time.Now()
}

// ExecuteWithSessionLock 在会话锁保护下执行操作。
// 等待锁的过程中 ctx 被取消时直接返回 ctx 的错误，fn 不会执行。
func (lm *LockManager) ExecuteWithSessionLock(ctx context.Context, sessionID string, fn func() error) error {
	info := lm.acquireInfo(sessionID)
	defer lm.releaseInfo(info)

	select {
	case info.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-info.sem }()

	return fn()
}

// ActiveLocks 当前登记的会话锁数量
func (lm *LockManager) ActiveLocks() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.sessionLocks)
}

// Stop 停止后台清理
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() {
		close(lm.stop)
	})
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup(interval time.Duration) {
	lm.cleanupTicker = time.NewTicker(interval)
	go func() {
		defer lm.cleanupTicker.Stop()
		for {
			select {
			case <-lm.stop:
				return
			case <-lm.cleanupTicker.C:
				lm.cleanupUnusedLocks(time.Now())
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks(now time.Time) int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 只有在锁数量过多时才清理
	if len(lm.sessionLocks) <= lm.maxLocks {
		return 0
	}

	removed := 0
	for sessionID, info := range lm.sessionLocks {
		if info.ReferenceCount == 0 && now.Sub(info.LastUsed) > lm.lockTimeout {
			delete(lm.sessionLocks, sessionID)
			removed++
		}
	}
	return removed
}
