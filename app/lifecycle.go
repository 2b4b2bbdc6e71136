package app

import (
	"context"
	"log/slog"
	"sync"
)

// Hook 组件的启动与停止逻辑，任一为空时跳过
type Hook struct {
	Name    string
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Lifecycle 管理应用程序中多个组件的生命周期
type Lifecycle struct {
	logger *slog.Logger
	hooks  []Hook
	mu     sync.Mutex
}

// NewLifecycle 创建一个新的生命周期管理器
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		logger: logger,
	}
}

// Append 添加一个生命周期钩子
func (l *Lifecycle) Append(hook Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// OnStop 注册只需关闭的组件，例如数据库连接和 Kafka 生产者。
func (l *Lifecycle) OnStop(name string, stop func() error) {
	l.Append(Hook{Name: name, OnStop: func(context.Context) error { return stop() }})
}

// Start 按顺序启动所有组件
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	hooks := append([]Hook(nil), l.hooks...)
	l.mu.Unlock()

	for _, hook := range hooks {
		if hook.OnStart != nil {
			l.logger.Info("starting component", "name", hook.Name)
			if err := hook.OnStart(ctx); err != nil {
				l.logger.Error("failed to start component", "name", hook.Name, "error", err)
				return err
			}
		}
	}
	return nil
}

// Stop 以相反的顺序停止所有组件，返回第一个错误
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for i := len(l.hooks) - 1; i >= 0; i-- {
		hook := l.hooks[i]
		if hook.OnStop != nil {
			l.logger.Info("stopping component", "name", hook.Name)
			if err := hook.OnStop(ctx); err != nil {
				l.logger.Error("failed to stop component", "name", hook.Name, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}
