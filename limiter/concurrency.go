package limiter

import (
	"context"
	"errors"
	"log/slog"
)

// ErrConcurrencyLimit 表示并发上限已触发。
var ErrConcurrencyLimit = errors.New("concurrency limit exceeded")

// SemaphoreLimiter 使用带缓冲的信号量限制同时进行的下载数。
type SemaphoreLimiter struct {
	sem      chan struct{}
	disabled bool
}

// NewSemaphoreLimiter max <= 0 表示不限制。
func NewSemaphoreLimiter(max int) *SemaphoreLimiter {
	if max <= 0 {
		return &SemaphoreLimiter{disabled: true}
	}

	return &SemaphoreLimiter{sem: make(chan struct{}, max)}
}

// Acquire 获取一个并发令牌，支持 Context 取消。
func (l *SemaphoreLimiter) Acquire(ctx context.Context) error {
	if l == nil || l.disabled {
		return nil
	}

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire 尝试获取一个并发令牌，快速失败。
func (l *SemaphoreLimiter) TryAcquire() bool {
	if l == nil || l.disabled {
		return true
	}

	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release 释放一个并发令牌。
func (l *SemaphoreLimiter) Release() {
	if l == nil || l.disabled {
		return
	}

	select {
	case <-l.sem:
		return
	default:
		slog.Warn("concurrency limiter release without acquire")
	}
}
