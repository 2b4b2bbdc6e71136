package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/limiter"
	"github.com/wyfcoding/filebroker/response"
)

// RateLimitMiddleware 构造一个通用的 Gin 限流中间件，使用客户端 IP 作为限流标识。
func RateLimitMiddleware(l limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		allowed, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			// 限流组件故障时放行
			slog.ErrorContext(c.Request.Context(), "rate limiter internal error, fail-open applied", "key", key, "error", err)
			c.Next()
			return
		}

		if !allowed {
			slog.WarnContext(c.Request.Context(), "request rejected by rate limiter", "key", key, "path", c.Request.URL.Path)
			response.ErrorWithStatus(c, http.StatusTooManyRequests, "too many requests")
			c.Abort()
			return
		}

		c.Next()
	}
}
