package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/wyfcoding/filebroker/config"
	"github.com/wyfcoding/filebroker/health"
	"github.com/wyfcoding/filebroker/idgen"
	"github.com/wyfcoding/filebroker/limiter"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/metrics"
	"github.com/wyfcoding/filebroker/middleware"
	"github.com/wyfcoding/filebroker/response"
	"github.com/wyfcoding/filebroker/server"
	"github.com/wyfcoding/filebroker/tracing"
)

const (
	defaultMetricsPath = "/metrics"
	readyTimeout       = 2 * time.Second
	rateLimitPrefix    = "ratelimit"
)

// Runtime 构建服务时可用的公共组件。
type Runtime struct {
	Config    *config.Config
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	IDs       idgen.Generator
	Lifecycle *Lifecycle
}

// Service 业务层交给 Builder 的产物。
type Service struct {
	Register func(r gin.IRouter)
	// Probes 就绪检查依赖。
	Probes []health.Probe
	// Redis 分布式限流使用，可为空。
	Redis redis.UniversalClient
	// NoTimeoutPrefixes 不受请求超时限制的路径前缀。
	NoTimeoutPrefixes []string
}

// ServiceFactory 组装业务依赖，需要关闭的资源注册到 rt.Lifecycle。
type ServiceFactory func(ctx context.Context, rt *Runtime) (*Service, error)

// Builder 按 配置 → 日志 → 追踪 → 指标 → 业务 → HTTP 服务 的顺序构建 App.
type Builder struct {
	serviceName string
	configPath  string
	factory     ServiceFactory
}

// NewBuilder 创建一个新的应用构建器.
func NewBuilder(serviceName string) *Builder {
	return &Builder{serviceName: serviceName}
}

// WithConfigPath 指定配置文件路径，未指定时使用 ./configs/<service>/config.toml.
func (b *Builder) WithConfigPath(path string) *Builder {
	b.configPath = path

	return b
}

// WithService 注册核心业务初始化逻辑.
func (b *Builder) WithService(factory ServiceFactory) *Builder {
	b.factory = factory

	return b
}

// Build 构建并组装完整的 App 实例.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	if b.factory == nil {
		return nil, errors.New("app: service factory is required")
	}

	cfg, err := b.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := b.initLogger(cfg)
	lc := NewLifecycle(logger.Logger)

	if cfg.Tracing.Enabled {
		b.initTracing(ctx, cfg, logger, lc)
	}

	m := b.initMetrics(cfg, lc)

	ids, err := idgen.NewGenerator(cfg.Snowflake)
	if err != nil {
		return nil, fmt.Errorf("init id generator: %w", err)
	}

	rt := &Runtime{Config: cfg, Logger: logger, Metrics: m, IDs: ids, Lifecycle: lc}
	svc, err := b.factory(ctx, rt)
	if err != nil {
		_ = lc.Stop(context.Background())
		return nil, fmt.Errorf("init service: %w", err)
	}

	engine, err := server.NewDefaultGinEngine(cfg.Server.HTTP.TrustedProxies, b.middleware(cfg, rt, svc)...)
	if err != nil {
		_ = lc.Stop(context.Background())
		return nil, fmt.Errorf("init gin engine: %w", err)
	}
	b.registerAdminRoutes(engine, cfg, m, svc.Probes)
	if svc.Register != nil {
		svc.Register(engine)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Addr, cfg.Server.HTTP.Port)
	srv := server.NewGinServer(engine, addr, logger.Logger, server.Options{
		ReadHeaderTimeout: cfg.Server.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.HTTP.IdleTimeout,
	})

	return New(b.serviceName, logger.Logger,
		WithServer(srv),
		WithLifecycle(lc),
		WithStopTimeout(cfg.Server.HTTP.ShutdownTimeout),
	), nil
}

// DefaultConfigPath 服务默认配置文件位置。
func DefaultConfigPath(serviceName string) string {
	return fmt.Sprintf("./configs/%s/config.toml", serviceName)
}

func (b *Builder) loadConfig() (*config.Config, error) {
	path := b.configPath
	if path == "" {
		path = DefaultConfigPath(b.serviceName)
	}

	cfg := &config.Config{}
	if err := config.Load(path, cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (b *Builder) initLogger(cfg *config.Config) *logging.Logger {
	logConfig := logging.Config{
		Service:    b.serviceName,
		Module:     "app",
		Level:      cfg.Log.Level,
		Output:     cfg.Log.Output,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}

	loggerInstance := logging.NewFromConfig(logConfig)
	logging.SetDefault(loggerInstance)

	return loggerInstance
}

func (b *Builder) initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger, lc *Lifecycle) {
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = b.serviceName
	}
	shutdown, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)

		return
	}

	lc.Append(Hook{Name: "tracer", OnStop: shutdown})
}

func (b *Builder) initMetrics(cfg *config.Config, lc *Lifecycle) *metrics.Metrics {
	m := metrics.NewMetrics(b.serviceName)
	m.RegisterBuildInfo(b.serviceName, cfg.Version)

	// 单独端口暴露；未配置端口时挂在业务路由上
	if cfg.Metrics.Enabled && cfg.Metrics.Port != "" {
		stop := m.ExposeHTTP(cfg.Metrics.Port, cfg.Metrics.Path)
		lc.OnStop("metrics-server", func() error {
			stop()
			return nil
		})
	}

	return m
}

// middleware 内置中间件顺序固定：恢复与请求标识最先，错误输出包住所有可能产生错误的中间件。
func (b *Builder) middleware(cfg *config.Config, rt *Runtime, svc *Service) []gin.HandlerFunc {
	mws := []gin.HandlerFunc{
		middleware.Recovery(rt.Logger.Logger),
		middleware.RequestID(rt.IDs),
		middleware.RequestContextEnricher(),
	}
	if cfg.Tracing.Enabled {
		mws = append(mws, middleware.TracingMiddleware(b.serviceName))
	}
	mws = append(mws,
		middleware.TraceIDHeader(),
		middleware.Logger(rt.Logger.Logger, cfg.Log.SlowThreshold),
		middleware.HTTPErrorHandler(rt.Logger.Logger),
	)
	if cfg.CORS.Enabled {
		mws = append(mws, middleware.CORS(cfg.CORS))
	}
	if cfg.RateLimit.Enabled {
		dyn := limiter.NewDynamicLimiter(newRateLimiter(cfg.RateLimit, svc.Redis))
		config.RegisterReloadHook(func(updated *config.Config) {
			if !updated.RateLimit.Enabled {
				dyn.Update(nil)
				return
			}
			dyn.Update(newRateLimiter(updated.RateLimit, svc.Redis))
		})
		mws = append(mws, middleware.RateLimitMiddleware(dyn))
	}
	mws = append(mws,
		middleware.MaxBodyBytes(cfg.Server.HTTP.MaxBodyBytes),
		middleware.TimeoutMiddleware(cfg.Server.HTTP.Timeout, svc.NoTimeoutPrefixes...),
		middleware.HTTPMetricsMiddlewareWithOptions(rt.Metrics, middleware.MetricsOptions{
			SkipPaths: []string{"/sys/health", "/sys/ready", metricsPath(cfg)},
		}),
	)
	if cfg.CircuitBreaker.Enabled {
		mws = append(mws, middleware.HTTPCircuitBreaker(cfg.CircuitBreaker, rt.Metrics))
	}

	return mws
}

// newRateLimiter 分布式模式需要 Redis，缺失时退回本地令牌桶。
func newRateLimiter(cfg config.RateLimitConfig, client redis.UniversalClient) limiter.Limiter {
	if cfg.Distributed && client != nil {
		return limiter.NewSlidingWindowLimiter(client, rateLimitPrefix, cfg.Window, int64(cfg.Rate))
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Rate
	}
	return limiter.NewLocalLimiter(rate.Limit(cfg.Rate), burst)
}

func metricsPath(cfg *config.Config) string {
	if cfg.Metrics.Path == "" {
		return defaultMetricsPath
	}
	return cfg.Metrics.Path
}

func (b *Builder) registerAdminRoutes(engine *gin.Engine, cfg *config.Config, m *metrics.Metrics, probes []health.Probe) {
	sys := engine.Group("/sys")
	sys.GET("/health", func(c *gin.Context) {
		response.SuccessWithRawData(c, gin.H{
			"status":    "UP",
			"service":   b.serviceName,
			"timestamp": time.Now().Unix(),
		})
	})
	sys.GET("/ready", readyHandler(probes))

	if cfg.Metrics.Enabled && cfg.Metrics.Port == "" {
		engine.GET(metricsPath(cfg), gin.WrapH(m.Handler()))
	}
}

func readyHandler(probes []health.Probe) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, ok := health.Run(c.Request.Context(), readyTimeout, probes...)
		if !ok {
			c.JSON(http.StatusServiceUnavailable, report)
			return
		}
		response.SuccessWithRawData(c, report)
	}
}
