package health

import (
	"context"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaChecker 返回 Kafka 依赖健康检查函数，仅在启用事件发布时注册。
func KafkaChecker(brokers []string) Checker {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers is empty")
		}

		dialer := &kafkago.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return fmt.Errorf("kafka dial failed: %w", err)
		}
		defer conn.Close()

		if _, err := conn.Brokers(); err != nil {
			return fmt.Errorf("kafka brokers fetch failed: %w", err)
		}

		return nil
	}
}
