// Package limiter 提供按 key 的请求限流与并发下载限制.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter 接口定义了限流器的通用行为。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter 基于令牌桶的单实例全局限流器，忽略 key。
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter r 为每秒令牌数，b 为桶容量。
func NewLocalLimiter(r rate.Limit, b int) *LocalLimiter {
	return &LocalLimiter{
		limiter: rate.NewLimiter(r, b),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return l.limiter.Allow(), nil
}

// DynamicLimiter 支持配置热更新时替换底层限流器，未设置时全部放行。
type DynamicLimiter struct {
	value atomic.Pointer[Limiter]
}

func NewDynamicLimiter(initial Limiter) *DynamicLimiter {
	d := &DynamicLimiter{}
	d.Update(initial)
	return d
}

// Update 替换当前限流器，传入 nil 表示关闭限流。
func (d *DynamicLimiter) Update(l Limiter) {
	if l == nil {
		d.value.Store(nil)
		return
	}
	d.value.Store(&l)
}

func (d *DynamicLimiter) Allow(ctx context.Context, key string) (bool, error) {
	p := d.value.Load()
	if p == nil {
		return true, nil
	}
	return (*p).Allow(ctx, key)
}
