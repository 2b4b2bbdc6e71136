package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/tracing"
)

// Logger 访问日志中间件，超过 slow 的请求以 Warn 级别输出。
func Logger(logger *slog.Logger, slow time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		cost := time.Since(start)
		ctx := c.Request.Context()

		level := slog.LevelInfo
		if slow > 0 && cost > slow {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "http request",
			"trace_id", tracing.GetTraceID(ctx),
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
			"cost", cost,
			"user_agent", c.Request.UserAgent(),
		)
	}
}
