package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/contextx"
)

// RequestContextEnricher 将客户端 IP 与 UA 注入请求上下文，供日志关联。
func RequestContextEnricher() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = contextx.WithIP(ctx, c.ClientIP())
		ctx = contextx.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
