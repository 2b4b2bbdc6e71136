// Package database 提供了基于 GORM 的数据库连接封装与通用仓储.
package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/wyfcoding/filebroker/breaker"
	"github.com/wyfcoding/filebroker/config"
	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/metrics"
	"github.com/wyfcoding/filebroker/xerrors"
)

// ErrTransactionFailed 事务执行失败.
var ErrTransactionFailed = errors.New("transaction failed")

const defaultSlowThreshold = 200 * time.Millisecond

// DB 封装了 GORM 实例与熔断器.
type DB struct {
	*gorm.DB
	breaker *breaker.Breaker
	logger  *logging.Logger
}

// NewDB 初始化数据库连接，注册 otel 插件并配置连接池.
// 唯一约束冲突统一翻译为 gorm.ErrDuplicatedKey。
func NewDB(cfg config.DatabaseConfig, cbCfg config.CircuitBreakerConfig, logger *logging.Logger, m *metrics.Metrics) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, xerrors.InvalidArg("unsupported database driver").WithDetail("driver: %s", cfg.Driver)
	}

	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = defaultSlowThreshold
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logging.NewGormLogger(logger, slow),
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, xerrors.WrapInternal(err, "failed to open database connection")
	}

	if err := gormDB.Use(tracing.NewPlugin()); err != nil {
		return nil, xerrors.WrapInternal(err, "failed to register gorm otel plugin")
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, xerrors.WrapInternal(err, "failed to get underlying sql.DB")
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	cb := breaker.NewBreaker(breaker.Settings{
		Name:         "database-" + cfg.Driver,
		Config:       cbCfg,
		IsSuccessful: IsBenign,
	}, m)

	return Wrap(gormDB, cb, logger), nil
}

// Wrap 使用已打开的 GORM 实例构造 DB，测试中可传入任意方言的连接。
func Wrap(gormDB *gorm.DB, cb *breaker.Breaker, logger *logging.Logger) *DB {
	return &DB{DB: gormDB, breaker: cb, logger: logger}
}

// IsBenign 记录不存在与唯一冲突属于业务结果，不计入熔断失败。
func IsBenign(err error) bool {
	return err == nil || errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
}

// Execute 在熔断保护下执行一次数据库操作.
func (db *DB) Execute(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return breaker.Do(db.breaker, func() error {
		return fn(db.DB.WithContext(ctx))
	})
}

// Transaction 封装了带熔断保护的事务逻辑.
func (db *DB) Transaction(ctx context.Context, fc func(tx *gorm.DB) error) error {
	return breaker.Do(db.breaker, func() error {
		if err := db.DB.WithContext(ctx).Transaction(fc); err != nil {
			if IsBenign(err) {
				return err
			}
			return xerrors.Wrap(err, xerrors.ErrInternal, ErrTransactionFailed.Error())
		}
		return nil
	})
}

// PingContext 检查底层连接池可用。
func (db *DB) PingContext(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接池.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
