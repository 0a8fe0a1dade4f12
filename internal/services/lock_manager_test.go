package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWithSessionLockSerializesSameSession(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lm.ExecuteWithSessionLock(context.Background(), "s-1", func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestExecuteWithSessionLockHonoursCancellation(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = lm.ExecuteWithSessionLock(context.Background(), "s-1", func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := lm.ExecuteWithSessionLock(ctx, "s-1", func() error {
		ran = true
		return nil
	})
	close(hold)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)

	// 其他会话不受影响
	require.NoError(t, lm.ExecuteWithSessionLock(context.Background(), "s-2", func() error { return nil }))
}

func TestCleanupUnusedLocks(t *testing.T) {
	lm := NewLockManager()
	defer lm.Stop()
	lm.maxLocks = 1

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, lm.ExecuteWithSessionLock(context.Background(), id, func() error { return nil }))
	}
	assert.Equal(t, 3, lm.ActiveLocks())

	assert.Equal(t, 0, lm.cleanupUnusedLocks(time.Now()))
	assert.Equal(t, 3, lm.cleanupUnusedLocks(time.Now().Add(time.Hour)))
	assert.Equal(t, 0, lm.ActiveLocks())
}
