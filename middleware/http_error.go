package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/response"
	"github.com/wyfcoding/filebroker/xerrors"
)

// HTTPErrorHandler 统一输出处理器通过 c.Error 登记的错误，并记录方法、路径与错误信息。
func HTTPErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		level := slog.LevelError
		if e, ok := xerrors.FromError(last.Err); ok && e.HTTPStatus() < 500 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", last.Err.Error(),
		)

		if c.Writer.Written() {
			return
		}
		response.Error(c, last.Err)
	}
}
