package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/config"
)

// 浏览器端断点续传与区间下载需要读取的响应头
var defaultExposeHeaders = []string{
	"Content-Length", "Content-Range", "Accept-Ranges", "Content-Disposition", "ETag", HeaderXRequestID,
}

// CORS 是一个 Gin 中间件，用于处理跨域资源共享 (CORS) 请求.
// AllowOrigins 为空或包含 * 时允许任意来源。
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	expose := strings.Join(append(slices.Clone(defaultExposeHeaders), cfg.ExposeHeaders...), ", ")
	allowAll := len(cfg.AllowOrigins) == 0 || slices.Contains(cfg.AllowOrigins, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		switch {
		case allowAll:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(cfg.AllowOrigins, origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Range, Accept-Encoding, Authorization, Origin, Cache-Control, X-Requested-With, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		h.Set("Access-Control-Expose-Headers", expose)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
