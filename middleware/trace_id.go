package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/tracing"
)

// HeaderXTraceID 定义 Trace ID 响应头名称。
const HeaderXTraceID = "X-Trace-ID"

// TraceIDHeader 将当前链路 Trace ID 写入响应头，需在 TracingMiddleware 之后注册。
func TraceIDHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if traceID := tracing.GetTraceID(c.Request.Context()); traceID != "" {
			c.Header(HeaderXTraceID, traceID)
		}
		c.Next()
	}
}
