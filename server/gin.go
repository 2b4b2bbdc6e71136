// Package server 提供 HTTP 服务器的启动与优雅关闭封装.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Options HTTP 服务器超时参数，零值表示不限制。
// 下载响应可能持续很久，因此不设置 WriteTimeout。
type Options struct {
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// GinServer 封装了标准的 `http.Server`，专门用于运行 Gin 引擎。
type GinServer struct {
	server *http.Server
	addr   string
	logger *slog.Logger
}

// NewGinServer 创建一个新的Gin服务器实例。
func NewGinServer(engine *gin.Engine, addr string, logger *slog.Logger, opts Options) *GinServer {
	return &GinServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			IdleTimeout:       opts.IdleTimeout,
		},
		addr:   addr,
		logger: logger,
	}
}

// Start 启动Gin HTTP服务器，监听上下文取消以触发优雅关闭。
func (s *GinServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定监听器上提供服务。
func (s *GinServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting gin server", "addr", ln.Addr().String())

	// 请求上下文继承 ctx，关闭时进行中的下载能感知取消
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("gin server stopping due to context cancellation")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Stop 优雅地停止Gin服务器。
func (s *GinServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping gin server gracefully")
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
