package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/breaker"
	"github.com/wyfcoding/filebroker/config"
	"github.com/wyfcoding/filebroker/metrics"
	"github.com/wyfcoding/filebroker/response"
)

var errServerFailure = errors.New("http: handler returned 5xx")

// HTTPCircuitBreaker 入站熔断中间件，5xx 响应计为失败。
func HTTPCircuitBreaker(cfg config.CircuitBreakerConfig, m *metrics.Metrics) gin.HandlerFunc {
	b := breaker.NewBreaker(breaker.Settings{
		Name:   "http-inbound",
		Config: cfg,
	}, m)

	return func(c *gin.Context) {
		err := breaker.Do(b, func() error {
			c.Next()
			if c.Writer.Status() >= http.StatusInternalServerError {
				return errServerFailure
			}
			return nil
		})

		if errors.Is(err, breaker.ErrServiceUnavailable) {
			response.ErrorWithStatus(c, http.StatusServiceUnavailable, "circuit breaker open")
			c.Abort()
		}
	}
}
