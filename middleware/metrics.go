package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/filebroker/metrics"
)

// MetricsOptions 定义指标中间件的可选参数。
type MetricsOptions struct {
	SkipPaths []string
}

// HTTPMetricsMiddlewareWithOptions 返回一个可配置的 HTTP 指标采集中间件。
// 路径标签使用路由模板，避免 id 与指纹导致标签基数膨胀。
func HTTPMetricsMiddlewareWithOptions(m *metrics.Metrics, opts MetricsOptions) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, path := range opts.SkipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		if _, ok := skip[path]; ok || m == nil {
			c.Next()
			return
		}

		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
