package server

import "context"

// Server 由 app.App 统一管理生命周期。
type Server interface {
	// Start 阻塞运行，直到 ctx 取消或服务出错。
	Start(ctx context.Context) error
	// Stop 等待进行中的请求完成。
	Stop(ctx context.Context) error
}
