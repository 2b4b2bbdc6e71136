package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/response"
)

// MaxBodyBytes 限制请求体大小。文件内容直接上传到对象存储，这里只约束 JSON 请求体。
func MaxBodyBytes(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > limit {
			response.ErrorWithStatus(c, http.StatusRequestEntityTooLarge, "request body too large")
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
