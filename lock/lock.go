// Package lock 提供基于 Redis SET NX 与令牌校验的分布式互斥锁.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockTimeout 在等待时间内未能获得锁。
	ErrLockTimeout = errors.New("lock: wait timeout")
	// ErrNotOwner 解锁时锁已过期或被他人持有。
	ErrNotOwner = errors.New("lock: not owner")
)

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker 互斥锁接口。Acquire 成功后返回 release，调用方须在所有退出路径上调用。
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (release func(context.Context) error, err error)
}

// RedisLock 基于单个 Redis 实例的锁实现。
type RedisLock struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLock(client redis.UniversalClient, prefix string) *RedisLock {
	return &RedisLock{client: client, prefix: prefix}
}

func (l *RedisLock) buildKey(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + ":" + key
}

// Acquire 在 wait 内以指数退避反复尝试加锁，ttl 为锁的自动过期时间。
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context) error, error) {
	token, err := l.TryLock(ctx, key, ttl, wait)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return l.Unlock(ctx, key, token)
	}, nil
}

// TryLock 阻塞式加锁，返回持有令牌。
func (l *RedisLock) TryLock(ctx context.Context, key string, ttl, wait time.Duration) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	fullKey := l.buildKey(key)

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	retryInterval := 20 * time.Millisecond
	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("redis setnx failed: %w", err)
		}
		if ok {
			slog.Debug("redis lock acquired", "key", fullKey)
			return token, nil
		}

		retry := time.NewTimer(retryInterval)
		select {
		case <-deadline.C:
			retry.Stop()
			return "", ErrLockTimeout
		case <-ctx.Done():
			retry.Stop()
			return "", ctx.Err()
		case <-retry.C:
			if retryInterval < 200*time.Millisecond {
				retryInterval *= 2
			}
		}
	}
}

// Unlock 校验令牌后删除锁，保证只释放自己持有的锁。
func (l *RedisLock) Unlock(ctx context.Context, key, token string) error {
	fullKey := l.buildKey(key)
	n, err := unlockScript.Run(ctx, l.client, []string{fullKey}, token).Int()
	if err != nil {
		return fmt.Errorf("redis eval unlock failed: %w", err)
	}
	if n == 0 {
		slog.Warn("redis unlock skipped (not owner or key expired)", "key", fullKey)
		return ErrNotOwner
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
