// Package metrics 封装了独立的 Prometheus 注册表，以及 HTTP 与文件上传下载相关的标准指标.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 封装了基于 Prometheus 的指标采集注册表及预定义的标准监控指标。
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec   // 维度: method, path, status
	HTTPRequestDuration *prometheus.HistogramVec // 维度: method, path
	BuildInfo           *prometheus.GaugeVec

	UploadOpsTotal        *prometheus.CounterVec // 维度: op(check/init/merge), result
	DownloadRequestsTotal *prometheus.CounterVec // 维度: status
	DownloadBytesTotal    prometheus.Counter
}

// NewMetrics 初始化并返回一个新的指标采集器，自动注册 Go 运行时指标和进程指标。
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "http_server_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	m.HTTPRequestDuration = m.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_server_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.UploadOpsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "filebroker_upload_operations_total",
		Help: "Upload session operations by result",
	}, []string{"op", "result"})

	m.DownloadRequestsTotal = m.NewCounterVec(prometheus.CounterOpts{
		Name: "filebroker_download_requests_total",
		Help: "Download requests by response status",
	}, []string{"status"})

	m.DownloadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filebroker_download_bytes_total",
		Help: "Bytes relayed to download clients",
	})
	reg.MustRegister(m.DownloadBytesTotal)

	slog.Info("unified metrics registry initialized", "service", serviceName)
	return m
}

// RegisterBuildInfo 注册构建信息指标。
func (m *Metrics) RegisterBuildInfo(serviceName, version string) {
	if m == nil || m.BuildInfo != nil {
		return
	}
	if version == "" {
		version = "unknown"
	}
	m.BuildInfo = m.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build information for the service",
	}, []string{"service", "version"})
	m.BuildInfo.WithLabelValues(serviceName, version).Set(1)
}

// NewCounterVec 创建并注册一个新的计数器指标。
func (m *Metrics) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, labelNames)
	m.registry.MustRegister(cv)
	return cv
}

// NewGaugeVec 创建并注册一个新的仪表盘指标。
func (m *Metrics) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(opts, labelNames)
	m.registry.MustRegister(gv)
	return gv
}

// NewHistogramVec 创建并注册一个新的直方图指标。
func (m *Metrics) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(opts, labelNames)
	m.registry.MustRegister(hv)
	return hv
}

// SharedCounterVec 注册计数器，同名指标已存在时复用已注册的实例。
func (m *Metrics) SharedCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, labelNames)
	if err := m.registry.Register(cv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return cv
}

// SharedGaugeVec 同 SharedCounterVec。
func (m *Metrics) SharedGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(opts, labelNames)
	if err := m.registry.Register(gv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return gv
}

// SharedHistogramVec 同 SharedCounterVec。
func (m *Metrics) SharedHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(opts, labelNames)
	if err := m.registry.Register(hv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return hv
}

// ObserveUpload 记录一次上传阶段操作结果，m 为 nil 时忽略。
func (m *Metrics) ObserveUpload(op, result string) {
	if m == nil {
		return
	}
	m.UploadOpsTotal.WithLabelValues(op, result).Inc()
}

// ObserveDownload 记录一次下载的响应状态与实际转发字节数。
func (m *Metrics) ObserveDownload(status string, bytes int64) {
	if m == nil {
		return
	}
	m.DownloadRequestsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		m.DownloadBytesTotal.Add(float64(bytes))
	}
}

// Handler 返回用于暴露指标的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExposeHTTP 在指定端口启动一个独立的 HTTP 服务器用于暴露指标数据，返回关闭函数。
func (m *Metrics) ExposeHTTP(port, path string) func() {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown metrics server", "error", err)
		}
	}
}
