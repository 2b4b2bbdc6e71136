// Package app 提供了应用程序的构建和管理功能，包括服务的启动、停止和资源清理。
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wyfcoding/filebroker/server"
)

const defaultStopTimeout = 10 * time.Second

// App 是应用程序的核心容器，负责管理服务器与依赖组件的生命周期。
type App struct {
	name   string
	logger *slog.Logger
	opts   options
}

// New 创建一个新的应用程序实例。
func New(name string, logger *slog.Logger, opts ...Option) *App {
	o := options{stopTimeout: defaultStopTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lifecycle == nil {
		o.lifecycle = NewLifecycle(logger)
	}

	return &App{
		name:   name,
		logger: logger,
		opts:   o,
	}
}

// Run 启动组件与服务器，阻塞直到收到 SIGINT/SIGTERM、ctx 取消或某个服务器出错。
// 关闭时先停服务器，再逆序停止组件，最后执行清理函数。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application starting", "name", a.name, "pid", os.Getpid())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.opts.lifecycle.Start(ctx); err != nil {
		a.shutdown()
		return err
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(a.opts.servers))
	for _, srv := range a.opts.servers {
		go func(s server.Server) {
			if err := s.Start(serveCtx); err != nil {
				errCh <- err
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down application", "name", a.name)
	case runErr = <-errCh:
		a.logger.Error("server failed, shutting down", "error", runErr)
	}
	cancel()

	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil {
		a.logger.Info("application shut down gracefully")
	}
	return runErr
}

func (a *App) shutdown() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), a.opts.stopTimeout)
	defer cancel()

	var errs []error
	for _, srv := range a.opts.servers {
		if err := srv.Stop(stopCtx); err != nil {
			a.logger.Error("server failed to stop", "error", err)
			errs = append(errs, err)
		}
	}
	if err := a.opts.lifecycle.Stop(stopCtx); err != nil {
		errs = append(errs, err)
	}
	for _, cleanup := range a.opts.cleanups {
		cleanup()
	}
	return errors.Join(errs...)
}
