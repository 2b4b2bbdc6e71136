package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/response"
)

// TimeoutMiddleware 设置请求的上下文超时保护。
// 以 skipPrefixes 开头的路径不受限制，下载这类长连接由客户端自行断开。
func TimeoutMiddleware(duration time.Duration, skipPrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if duration <= 0 || hasAnyPrefix(c.Request.URL.Path, skipPrefixes) {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), duration)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			response.ErrorWithStatus(c, http.StatusGatewayTimeout, "request timeout")
			c.Abort()
		}
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
