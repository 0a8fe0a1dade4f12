// internal/api/rate_limit_middleware.go
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter 固定窗口计数，每个 key 在一个窗口内最多 limit 次
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// Visitor represents a client with rate limiting data
type Visitor struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// NewRateLimiter creates a new rate limiter with a background cleanup loop
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*Visitor),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanup(10 * time.Minute)
	return rl
}

// Stop 停止清理协程
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup removes visitors whose window has expired
func (rl *RateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, visitor := range rl.visitors {
				if now.After(visitor.Reset) {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow 检查并消耗一次额度，同时返回当前的限额信息
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) (bool, Visitor) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	visitor, exists := rl.visitors[key]
	if !exists || now.After(visitor.Reset) {
		// New visitor or previous window has expired
		visitor = &Visitor{Limit: limit, Remaining: limit, Reset: now.Add(window)}
		rl.visitors[key] = visitor
	}
	if visitor.Remaining <= 0 {
		return false, *visitor
	}
	visitor.Remaining--
	return true, *visitor
}

// RateLimitMiddleware creates a rate limiting middleware. limit <= 0 disables it.
func RateLimitMiddleware(rl *RateLimiter, rh *ResponseHelper, limit int, window time.Duration, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		ok, visitor := rl.Allow(keyFunc(c), limit, window)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", visitor.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", visitor.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", visitor.Reset.Unix()))

		if !ok {
			rh.Error(c, http.StatusTooManyRequests, ErrorRateLimited, "rate limit exceeded for this session")
			return
		}
		c.Next()
	}
}

// RateLimitBySession 按会话ID限流，用于生成接口
func RateLimitBySession(rl *RateLimiter, rh *ResponseHelper, limit int, window time.Duration) gin.HandlerFunc {
	return RateLimitMiddleware(rl, rh, limit, window, func(c *gin.Context) string {
		return "session:" + c.Param("id")
	})
}
