// Package retry 提供带抖动的指数退避重试，用于清理上传会话等可重放的收尾操作.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config 封装了重试策略参数。MaxRetries 为首次执行之后的额外次数。
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
	MaxRetries     int
}

// DefaultConfig 返回一个通用的默认重试配置.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 标记一个不应再重试的错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do 执行 fn，失败时按退避策略重试，直到成功、遇到 Permanent 错误或 ctx 结束。
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		timer := time.NewTimer(jittered(backoff, cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}

		next := time.Duration(float64(backoff) * cfg.Multiplier)
		if cfg.MaxBackoff > 0 {
			next = min(next, cfg.MaxBackoff)
		}
		backoff = next
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * jitter * float64(d)
	return d + time.Duration(delta)
}
