// Package kafka 基于 segmentio/kafka-go 实现事件生产者，失败消息转投死信主题.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/wyfcoding/filebroker/config"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/messagequeue"
	"github.com/wyfcoding/filebroker/metrics"
	"github.com/wyfcoding/filebroker/tracing"
)

// messageWriter 是 *kafkago.Writer 的最小子集。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type collectors struct {
	produced *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// Producer 实现 messagequeue.EventPublisher。
type Producer struct {
	topic     string
	writer    messageWriter
	dlqWriter messageWriter
	logger    *logging.Logger
	metrics   *collectors
}

var _ messagequeue.EventPublisher = (*Producer)(nil)

func NewProducer(cfg config.KafkaConfig, logger *logging.Logger, m *metrics.Metrics) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		MaxAttempts:  5,
		RequiredAcks: kafkago.RequireAll,
		Async:        cfg.Async,
	}
	dlq := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic + ".dlq",
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return newProducer(cfg.Topic, w, dlq, logger, m)
}

func newProducer(topic string, w, dlq messageWriter, logger *logging.Logger, m *metrics.Metrics) *Producer {
	p := &Producer{topic: topic, writer: w, dlqWriter: dlq, logger: logger}
	if m != nil {
		p.metrics = &collectors{
			produced: m.SharedCounterVec(prometheus.CounterOpts{
				Name: "mq_produced_total",
				Help: "消息生产总数",
			}, []string{"topic", "status"}),
			duration: m.SharedHistogramVec(prometheus.HistogramOpts{
				Name:    "mq_operation_duration_seconds",
				Help:    "MQ操作耗时",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic", "operation"}),
		}
	}
	return p
}

// Publish 将事件序列化为 JSON 发送，并注入链路追踪头。写入失败时转投死信主题。
func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.PublishRaw(ctx, []byte(key), value)
}

// PublishRaw 发送原始字节消息。
func (p *Producer) PublishRaw(ctx context.Context, key, value []byte) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "kafka.Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	carrier := tracing.InjectContext(ctx)
	headers := make([]kafkago.Header, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	msg := kafkago.Message{Key: key, Value: value, Headers: headers, Time: time.Now()}

	err := p.writer.WriteMessages(ctx, msg)
	p.observe(start, err)
	if err != nil {
		tracing.SetError(ctx, err)
		p.logger.ErrorContext(ctx, "failed to publish message", "topic", p.topic, "error", err)
		if dlqErr := p.dlqWriter.WriteMessages(ctx, msg); dlqErr != nil {
			p.logger.ErrorContext(ctx, "failed to write to DLQ", "topic", p.topic, "error", dlqErr)
		}
		return err
	}
	return nil
}

func (p *Producer) observe(start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	p.metrics.produced.WithLabelValues(p.topic, status).Inc()
	p.metrics.duration.WithLabelValues(p.topic, "publish").Observe(time.Since(start).Seconds())
}

func (p *Producer) Close() error {
	return errors.Join(p.dlqWriter.Close(), p.writer.Close())
}
