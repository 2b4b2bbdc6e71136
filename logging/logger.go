// Package logging 提供了统一的结构化日志（slog）封装，支持OpenTelemetry追踪上下文注入和GORM日志集成。
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm/logger"

	"github.com/wyfcoding/filebroker/contextx"
)

var (
	// defaultLogger 是全局默认的Logger实例。
	defaultLogger *Logger
	once          sync.Once
	// level 为全局动态日志级别，配置热更新时通过 SetLevel 调整。
	level = new(slog.LevelVar)
)

// Config 定义日志配置
type Config struct {
	Service    string
	Module     string
	Level      string
	Output     string // stdout、file 或 both，为空时按 File 是否配置推断
	File       string // 日志文件路径
	MaxSize    int    // 每个日志文件最大尺寸 (MB)
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Logger 封装了原生的 `*slog.Logger`，并附带服务名和模块名。
type Logger struct {
	*slog.Logger
	Service string
	Module  string
}

// TraceHandler 从 `context.Context` 中提取 `trace_id`、`span_id` 与请求 ID 注入日志记录。
type TraceHandler struct {
	slog.Handler
}

// Handle 实现 `slog.Handler` 接口。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if attrs := contextx.LogAttrs(ctx); len(attrs) > 0 {
		r.Add(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保持装饰链不被底层 Handler 替换。
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 同上。
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel 动态调整全局日志级别。
func SetLevel(lvl string) {
	level.Set(parseLevel(lvl))
}

// NewFromConfig 创建一个新的Logger实例，支持 lumberjack 日志切割。
func NewFromConfig(cfg Config) *Logger {
	return newWithWriter(cfg, nil)
}

func newWithWriter(cfg Config, w io.Writer) *Logger {
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	}

	var handler slog.Handler
	switch {
	case w != nil:
		handler = slog.NewJSONHandler(w, opts)
	case cfg.File == "" || cfg.Output == "stdout":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		handler = slog.NewJSONHandler(fileWriter, opts)
		if cfg.Output == "both" {
			handler = newMultiHandler(slog.NewJSONHandler(os.Stdout, opts), handler)
		}
	}

	l := slog.New(&TraceHandler{Handler: handler}).With(
		slog.String("service", cfg.Service),
		slog.String("module", cfg.Module),
	)

	return &Logger{
		Logger:  l,
		Service: cfg.Service,
		Module:  cfg.Module,
	}
}

// NewLogger 使用简单参数创建 logger。
func NewLogger(service, module string, lvl ...string) *Logger {
	l := "info"
	if len(lvl) > 0 {
		l = lvl[0]
	}
	return NewFromConfig(Config{Service: service, Module: module, Level: l})
}

// SetDefault 将给定 logger 设为全局默认，并同步到 slog 默认实例。
func SetDefault(l *Logger) {
	once.Do(func() {})
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// Default 返回默认日志记录器实例
func Default() *Logger {
	once.Do(func() {
		if defaultLogger == nil {
			defaultLogger = NewLogger("filebroker", "default")
		}
	})
	return defaultLogger
}

// Info 记录 Info 级别日志
func Info(ctx context.Context, msg string, args ...any) {
	Default().InfoContext(ctx, msg, args...)
}

// Warn 记录 Warn 级别日志
func Warn(ctx context.Context, msg string, args ...any) {
	Default().WarnContext(ctx, msg, args...)
}

// Error 记录 Error 级别日志
func Error(ctx context.Context, msg string, args ...any) {
	Default().ErrorContext(ctx, msg, args...)
}

// Debug 记录 Debug 级别日志
func Debug(ctx context.Context, msg string, args ...any) {
	Default().DebugContext(ctx, msg, args...)
}

// LogDuration 记录操作耗时
func LogDuration(ctx context.Context, operation string, args ...any) func() {
	start := time.Now()
	return func() {
		logArgs := append(args, "duration", time.Since(start))
		Info(ctx, operation+" finished", logArgs...)
	}
}

// GormLogger 实现了 `gorm.io/gorm/logger.Interface`，将数据库日志输出到 slog。
type GormLogger struct {
	logger        *slog.Logger
	SlowThreshold time.Duration
}

// NewGormLogger 创建一个新的GormLogger实例。
func NewGormLogger(l *Logger, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{
		logger:        l.Logger,
		SlowThreshold: slowThreshold,
	}
}

// LogMode 沿用 slog 的级别配置。
func (l *GormLogger) LogMode(logger.LogLevel) logger.Interface {
	return l
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
}

// Trace 记录 SQL 耗时：慢查询记 Warn，错误记 Error，其余记 Debug。
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []any{
		slog.String("sql", sql),
		slog.Duration("elapsed", elapsed),
	}
	if rows != -1 {
		fields = append(fields, slog.Int64("rows", rows))
	}

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound):
		fields = append(fields, slog.Any("error", err))
		l.logger.ErrorContext(ctx, "gorm trace error", fields...)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		fields = append(fields, slog.String("type", "slow_query"))
		l.logger.WarnContext(ctx, "gorm trace slow query", fields...)
	default:
		l.logger.DebugContext(ctx, "gorm trace", fields...)
	}
}
