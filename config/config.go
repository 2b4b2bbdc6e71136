// Package config 提供了统一的配置加载与管理能力.
// 生成摘要:
// 1) 新增 upload 配置段，描述断点续传窗口、分片列表分页与下载缓冲区。
// 2) MinIO 配置增加对外访问地址与预签名有效期。
// 3) Kafka 配置增加开关，未启用时不发布文件入库事件。
// 假设:
// 1) 未配置的时长与大小字段由 SetDefaults 兜底。
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wyfcoding/filebroker/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gorm.io/gorm/logger"
)

// Config 全局顶级配置结构.
type Config struct {
	Version        string               `mapstructure:"version"        toml:"version"`
	Server         ServerConfig         `mapstructure:"server"         toml:"server"`
	Log            LogConfig            `mapstructure:"log"            toml:"log"`
	Data           DataConfig           `mapstructure:"data"           toml:"data"`
	Minio          MinioConfig          `mapstructure:"minio"          toml:"minio"`
	Upload         UploadConfig         `mapstructure:"upload"         toml:"upload"`
	Snowflake      SnowflakeConfig      `mapstructure:"snowflake"      toml:"snowflake"`
	Lock           LockConfig           `mapstructure:"lock"           toml:"lock"`
	Tracing        TracingConfig        `mapstructure:"tracing"        toml:"tracing"`
	Metrics        MetricsConfig        `mapstructure:"metrics"        toml:"metrics"`
	MessageQueue   MessageQueueConfig   `mapstructure:"messagequeue"   toml:"messagequeue"`
	RateLimit      RateLimitConfig      `mapstructure:"ratelimit"      toml:"ratelimit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitbreaker" toml:"circuitbreaker"`
	CORS           CORSConfig           `mapstructure:"cors"           toml:"cors"`
}

// ServerConfig 定义服务器运行时的基础网络与环境参数.
type ServerConfig struct {
	Name        string `mapstructure:"name"        toml:"name"        validate:"required"`
	Environment string `mapstructure:"environment" toml:"environment" validate:"oneof=dev test prod"`
	HTTP        struct {
		Addr              string        `mapstructure:"addr"                toml:"addr"`
		Timeout           time.Duration `mapstructure:"timeout"             toml:"timeout"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" toml:"read_header_timeout"`
		IdleTimeout       time.Duration `mapstructure:"idle_timeout"        toml:"idle_timeout"`
		ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"    toml:"shutdown_timeout"`
		MaxBodyBytes      int64         `mapstructure:"max_body_bytes"      toml:"max_body_bytes"`
		TrustedProxies    []string      `mapstructure:"trusted_proxies"     toml:"trusted_proxies"`
		Port              int           `mapstructure:"port"                toml:"port"                validate:"required,min=1,max=65535"`
	} `mapstructure:"http" toml:"http"`
}

// DataConfig 汇集了所有持久化存储与中间件的数据源配置.
type DataConfig struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Redis    RedisConfig    `mapstructure:"redis"    toml:"redis"`
	BigCache BigCacheConfig `mapstructure:"bigcache" toml:"bigcache"`
}

// DatabaseConfig 定义单数据库实例连接与连接池参数.
type DatabaseConfig struct {
	Driver          string          `mapstructure:"driver"            toml:"driver"            validate:"required,oneof=mysql postgres"`
	DSN             string          `mapstructure:"dsn"               toml:"dsn"               validate:"required"`
	ConnMaxLifetime time.Duration   `mapstructure:"conn_max_lifetime" toml:"conn_max_lifetime"`
	SlowThreshold   time.Duration   `mapstructure:"slow_threshold"    toml:"slow_threshold"`
	LogLevel        logger.LogLevel `mapstructure:"log_level"         toml:"log_level"`
	MaxIdleConns    int             `mapstructure:"max_idle_conns"    toml:"max_idle_conns"`
	MaxOpenConns    int             `mapstructure:"max_open_conns"    toml:"max_open_conns"`
	AutoMigrate     bool            `mapstructure:"auto_migrate"      toml:"auto_migrate"`
}

// RedisConfig 定义 Redis 连接与池化参数.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"           toml:"addr"           validate:"required"`
	Password     string        `mapstructure:"password"       toml:"password"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"   toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"  toml:"write_timeout"`
	DB           int           `mapstructure:"db"             toml:"db"`
	PoolSize     int           `mapstructure:"pool_size"      toml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" toml:"min_idle_conns"`
}

// BigCacheConfig 高性能本地内存缓存参数.
type BigCacheConfig struct {
	LifeWindow       time.Duration `mapstructure:"life_window"         toml:"life_window"`
	CleanWindow      time.Duration `mapstructure:"clean_window"        toml:"clean_window"`
	HardMaxCacheSize int           `mapstructure:"hard_max_cache_size" toml:"hard_max_cache_size"`
}

// LogConfig 定义日志输出、级别与切割策略.
type LogConfig struct {
	Level         string        `mapstructure:"level"          toml:"level"`          // 日志级别。
	Output        string        `mapstructure:"output"         toml:"output"`         // 日志输出目标（stdout/file）。
	File          string        `mapstructure:"file"           toml:"file"`           // 日志文件路径。
	MaxSize       int           `mapstructure:"max_size"       toml:"max_size"`       // 单个文件最大大小 (MB)。
	MaxBackups    int           `mapstructure:"max_backups"    toml:"max_backups"`    // 最大备份数。
	MaxAge        int           `mapstructure:"max_age"        toml:"max_age"`        // 最大保留天数。
	Compress      bool          `mapstructure:"compress"       toml:"compress"`       // 是否启用压缩。
	SlowThreshold time.Duration `mapstructure:"slow_threshold" toml:"slow_threshold"` // HTTP 慢请求阈值。
}

// MinioConfig 定义 S3 兼容对象存储 MinIO 的连接参数.
type MinioConfig struct {
	Endpoint        string        `mapstructure:"endpoint"          toml:"endpoint"          validate:"required"`
	AccessKeyID     string        `mapstructure:"access_key_id"     toml:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key" toml:"secret_access_key"`
	BucketName      string        `mapstructure:"bucket_name"       toml:"bucket_name"       validate:"required"`
	Region          string        `mapstructure:"region"            toml:"region"`
	UseSSL          bool          `mapstructure:"use_ssl"           toml:"use_ssl"`
	PublicEndpoint  string        `mapstructure:"public_endpoint"   toml:"public_endpoint"` // 拼接文件访问地址，例如 http://127.0.0.1:9000。
	PresignExpiry   time.Duration `mapstructure:"presign_expiry"    toml:"presign_expiry"`  // 上传地址有效期。
}

// UploadConfig 定义分片上传与断点续传相关参数.
type UploadConfig struct {
	BreakpointWindow   time.Duration `mapstructure:"breakpoint_window"    toml:"breakpoint_window"`    // 上传会话在缓存中的保留时长。
	PartPageSize       int           `mapstructure:"part_page_size"       toml:"part_page_size"`       // 查询已上传分片时的单页大小。
	LockTTL            time.Duration `mapstructure:"lock_ttl"             toml:"lock_ttl"`             // 同一指纹初始化与合并共用互斥锁的持有上限。
	LockWait           time.Duration `mapstructure:"lock_wait"            toml:"lock_wait"`            // 等待互斥锁的最长时间。
	RecordCacheTTL     time.Duration `mapstructure:"record_cache_ttl"     toml:"record_cache_ttl"`     // 下载时文件记录的缓存时长。
	DownloadBufferSize int           `mapstructure:"download_buffer_size" toml:"download_buffer_size"` // 下载转发缓冲区大小（字节）。
	MaxDownloads       int           `mapstructure:"max_downloads"        toml:"max_downloads"`        // 同时进行的下载数上限，0 表示不限制。
}

// SnowflakeConfig 雪花算法分布式 ID 生成器参数.
type SnowflakeConfig struct {
	StartTime string `mapstructure:"start_time" toml:"start_time"`
	Type      string `mapstructure:"type"       toml:"type"`
	MachineID int64  `mapstructure:"machine_id" toml:"machine_id"`
}

// LockConfig 分布式锁通用配置.
type LockConfig struct {
	Prefix string `mapstructure:"prefix" toml:"prefix"`
}

// TracingConfig 分布式链路追踪（OpenTelemetry）配置.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
}

// MetricsConfig 普罗米修斯监控指标暴露配置.
type MetricsConfig struct {
	Port    string `mapstructure:"port"    toml:"port"`
	Path    string `mapstructure:"path"    toml:"path"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// MessageQueueConfig 聚合所有消息中间件配置.
type MessageQueueConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka" toml:"kafka"`
}

// KafkaConfig 定义 Kafka 生产者参数.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"       toml:"enabled"`
	Topic        string        `mapstructure:"topic"         toml:"topic"         validate:"required_if=Enabled true"`
	Brokers      []string      `mapstructure:"brokers"       toml:"brokers"       validate:"required_if=Enabled true"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" toml:"write_timeout"`
	Async        bool          `mapstructure:"async"         toml:"async"`
}

// RateLimitConfig 定义按客户端 IP 的限流参数.
// Distributed 为 true 时使用 Redis 滑动窗口，在 Window 内最多放行 Rate 个请求；否则使用本地令牌桶.
type RateLimitConfig struct {
	Rate        int           `mapstructure:"rate"        toml:"rate"`
	Burst       int           `mapstructure:"burst"       toml:"burst"`
	Window      time.Duration `mapstructure:"window"      toml:"window"`
	Distributed bool          `mapstructure:"distributed" toml:"distributed"`
	Enabled     bool          `mapstructure:"enabled"     toml:"enabled"`
}

// CircuitBreakerConfig 定义熔断器（Gobreaker）的保护策略.
type CircuitBreakerConfig struct {
	Interval    time.Duration `mapstructure:"interval"     toml:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"      toml:"timeout"`
	MaxRequests uint32        `mapstructure:"max_requests" toml:"max_requests"`
	Enabled     bool          `mapstructure:"enabled"      toml:"enabled"`
}

// CORSConfig 定义跨域配置。
type CORSConfig struct {
	Enabled       bool     `mapstructure:"enabled"        toml:"enabled"`
	AllowOrigins  []string `mapstructure:"allow_origins"  toml:"allow_origins"`
	ExposeHeaders []string `mapstructure:"expose_headers" toml:"expose_headers"`
}

const (
	defaultPresignExpiry      = 24 * time.Hour
	defaultBreakpointWindow   = 24 * time.Hour
	defaultPartPageSize       = 1000
	defaultLockTTL            = 30 * time.Second
	defaultLockWait           = 5 * time.Second
	defaultRecordCacheTTL     = 10 * time.Minute
	defaultDownloadBufferSize = 64 * 1024
)

// SetDefaults 为未配置的字段填充默认值.
func (c *Config) SetDefaults() {
	if c.Minio.PresignExpiry <= 0 {
		c.Minio.PresignExpiry = defaultPresignExpiry
	}
	if c.Upload.BreakpointWindow <= 0 {
		c.Upload.BreakpointWindow = defaultBreakpointWindow
	}
	if c.Upload.PartPageSize <= 0 {
		c.Upload.PartPageSize = defaultPartPageSize
	}
	if c.Upload.LockTTL <= 0 {
		c.Upload.LockTTL = defaultLockTTL
	}
	if c.Upload.LockWait <= 0 {
		c.Upload.LockWait = defaultLockWait
	}
	if c.Upload.RecordCacheTTL <= 0 {
		c.Upload.RecordCacheTTL = defaultRecordCacheTTL
	}
	if c.Upload.DownloadBufferSize <= 0 {
		c.Upload.DownloadBufferSize = defaultDownloadBufferSize
	}
	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}
	if c.Lock.Prefix == "" {
		c.Lock.Prefix = "upload:lock"
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Second
	}
	if c.Minio.PublicEndpoint == "" {
		scheme := "http://"
		if c.Minio.UseSSL {
			scheme = "https://"
		}
		c.Minio.PublicEndpoint = scheme + c.Minio.Endpoint
	}
}

var vInstance = viper.New()
var onReload []func(*Config)

// RegisterReloadHook 注册配置热更新回调。
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	onReload = append(onReload, hook)
}

// Load 读取配置文件、环境变量并校验，随后开启文件监听实现热更新.
func Load(path string, conf *Config) error {
	vInstance.SetConfigFile(path)
	vInstance.SetConfigType("toml")

	vInstance.SetEnvPrefix("APP")
	vInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vInstance.AutomaticEnv()

	if err := vInstance.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}

	if err := vInstance.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}
	conf.SetDefaults()

	validate := validator.New()
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	vInstance.WatchConfig()
	vInstance.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		var updated Config
		if unmarshalErr := vInstance.Unmarshal(&updated); unmarshalErr != nil {
			slog.Error("reload config unmarshal failed", "error", unmarshalErr)
			return
		}
		updated.SetDefaults()

		if validateErr := validate.Struct(&updated); validateErr != nil {
			slog.Error("reload config validation failed", "error", validateErr)
			return
		}

		*conf = updated
		logging.SetLevel(conf.Log.Level)
		slog.Info("config hot-reloaded and validated successfully")

		for _, hook := range onReload {
			hook(conf)
		}
	})

	return nil
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if unmarshalErr := json.Unmarshal(data, &configMap); unmarshalErr != nil {
		slog.Error("failed to unmarshal config for masking", "error", unmarshalErr)
		return
	}

	mask(configMap)

	maskedJSON, marshalErr := json.MarshalIndent(configMap, "  ", "  ")
	if marshalErr != nil {
		slog.Error("failed to marshal masked config", "error", marshalErr)
		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "key", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}

		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					mask(itemMap)
				}
			}
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}
