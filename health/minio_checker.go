package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger 由 storage.MinIOClient 实现，检查存储桶可访问。
type Pinger interface {
	Ping(ctx context.Context) error
}

// MinioChecker 复用已注入的 MinIO 客户端做探测，不额外创建连接。
func MinioChecker(p Pinger) Checker {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("minio client is nil")
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("minio bucket check failed: %w", err)
		}
		return nil
	}
}
