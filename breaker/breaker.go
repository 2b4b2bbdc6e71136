// Package breaker 提供了基于 gobreaker 的熔断器封装，用于保护对象存储与数据库调用.
package breaker

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/filebroker/config"
	"github.com/wyfcoding/filebroker/metrics"
)

// ErrServiceUnavailable 表示服务当前处于熔断状态。
var ErrServiceUnavailable = errors.New("service unavailable: circuit breaker is open")

// Breaker 封装了 gobreaker 实例，集成了 Prometheus 指标监控与日志。
type Breaker struct {
	circuitBreaker *gobreaker.CircuitBreaker
}

// Settings 定义了熔断器的初始化参数。
type Settings struct {
	Name         string
	Config       config.CircuitBreakerConfig
	FailureRatio float64
	MinRequests  uint32
	// IsSuccessful 判定哪些错误不计入失败，例如对象不存在属于正常业务结果。
	IsSuccessful func(err error) bool
}

// NewBreaker 初始化并返回一个新的熔断器封装对象，未启用时直接透传调用。
func NewBreaker(st Settings, m *metrics.Metrics) *Breaker {
	if !st.Config.Enabled {
		return &Breaker{}
	}

	failureRatio := st.FailureRatio
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	minRequests := st.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}

	var gauge *prometheus.GaugeVec
	if m != nil {
		gauge = m.SharedGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0: Closed, 1: Half-Open, 2: Open)",
		}, []string{"name"})
	}

	gs := gobreaker.Settings{
		Name:         st.Name,
		MaxRequests:  st.Config.MaxRequests,
		Interval:     st.Config.Interval,
		Timeout:      st.Config.Timeout,
		IsSuccessful: st.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if gauge != nil {
				gauge.WithLabelValues(name).Set(float64(to))
			}
		},
	}

	return &Breaker{circuitBreaker: gobreaker.NewCircuitBreaker(gs)}
}

// ExecuteTyped 执行受熔断保护的函数。
func ExecuteTyped[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil || b.circuitBreaker == nil {
		return fn()
	}

	var out T
	_, err := b.circuitBreaker.Execute(func() (any, error) {
		res, err := fn()
		out = res
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrServiceUnavailable
	}
	return out, err
}

// Do 是无返回值版本。
func Do(b *Breaker, fn func() error) error {
	_, err := ExecuteTyped(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
