// Package middleware 提供 filebroker HTTP 服务使用的 Gin 中间件.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/contextx"
	"github.com/wyfcoding/filebroker/idgen"
)

const (
	HeaderXRequestID = "X-Request-ID"
)

// RequestID 返回一个用于生成或传递请求 ID 的 Gin 中间件。
func RequestID(gen idgen.Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" && gen != nil {
			requestID = strconv.FormatInt(gen.Generate(), 10)
		}

		c.Request = c.Request.WithContext(contextx.WithRequestID(c.Request.Context(), requestID))
		c.Header(HeaderXRequestID, requestID)

		c.Next()
	}
}
