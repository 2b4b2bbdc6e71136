// Package messagequeue 定义了与具体消息中间件解耦的事件发布接口.
package messagequeue

import "context"

// EventPublisher 发布领域事件，实现负责序列化与投递。
type EventPublisher interface {
	// Publish 以 key 为分区键发布一个事件。
	Publish(ctx context.Context, key string, event any) error
	Close() error
}
