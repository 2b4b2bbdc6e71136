package app

import (
	"time"

	"github.com/wyfcoding/filebroker/server"
)

// Option 配置 App。
type Option func(*options)

type options struct {
	servers     []server.Server
	cleanups    []func()
	lifecycle   *Lifecycle
	stopTimeout time.Duration
}

// WithServer 注册随应用启动和关闭的服务器。
func WithServer(servers ...server.Server) Option {
	return func(o *options) {
		o.servers = append(o.servers, servers...)
	}
}

// WithCleanup 注册在所有组件停止后执行的清理函数。
func WithCleanup(cleanup func()) Option {
	return func(o *options) {
		o.cleanups = append(o.cleanups, cleanup)
	}
}

// WithLifecycle 使用外部构造的组件生命周期管理器。
func WithLifecycle(lc *Lifecycle) Option {
	return func(o *options) {
		o.lifecycle = lc
	}
}

// WithStopTimeout 设置优雅关闭的总时长。
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}
