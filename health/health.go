// Package health 提供 /sys/ready 使用的依赖探测.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/filebroker/database"
)

const defaultTimeout = 2 * time.Second

// Checker 定义健康检查函数原型。
type Checker func(ctx context.Context) error

// Probe 具名的依赖检查。
type Probe struct {
	Name  string
	Check Checker
}

// Report 就绪检查结果，Checks 中正常的依赖值为 "UP"，否则为错误信息。
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Run 并发执行所有探测，每个探测单独受 timeout 限制。
func Run(ctx context.Context, timeout time.Duration, probes ...Probe) (Report, bool) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var (
		mu     sync.Mutex
		report = Report{Status: "UP", Checks: make(map[string]string, len(probes))}
		ok     = true
	)
	var g errgroup.Group
	for _, p := range probes {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			err := p.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ok = false
				report.Checks[p.Name] = err.Error()
				return nil
			}
			report.Checks[p.Name] = "UP"
			return nil
		})
	}
	_ = g.Wait()

	if !ok {
		report.Status = "DOWN"
	}
	return report, ok
}

// DBChecker 返回数据库健康检查函数。
func DBChecker(db *database.DB) Checker {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("database is nil")
		}
		return db.PingContext(ctx)
	}
}

// RedisChecker 返回 Redis 健康检查函数。
func RedisChecker(client redis.UniversalClient) Checker {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		return client.Ping(ctx).Err()
	}
}
