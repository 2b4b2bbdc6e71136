package main

import (
	"context"
	"fmt"

	"github.com/wyfcoding/filebroker/api"
	"github.com/wyfcoding/filebroker/app"
	"github.com/wyfcoding/filebroker/breaker"
	"github.com/wyfcoding/filebroker/cache"
	"github.com/wyfcoding/filebroker/config"
	"github.com/wyfcoding/filebroker/database"
	"github.com/wyfcoding/filebroker/download"
	"github.com/wyfcoding/filebroker/filestore"
	"github.com/wyfcoding/filebroker/health"
	"github.com/wyfcoding/filebroker/limiter"
	"github.com/wyfcoding/filebroker/lock"
	"github.com/wyfcoding/filebroker/messagequeue/kafka"
	"github.com/wyfcoding/filebroker/redis"
	"github.com/wyfcoding/filebroker/retry"
	"github.com/wyfcoding/filebroker/storage"
	"github.com/wyfcoding/filebroker/upload"
)

const recordCachePrefix = "file:record"

// newService 组装各组件，需要关闭的资源按创建顺序登记，关闭时逆序执行。
func newService(ctx context.Context, rt *app.Runtime) (*app.Service, error) {
	cfg, logger, m := rt.Config, rt.Logger, rt.Metrics
	config.PrintWithMask(cfg)

	rdb, closeRedis, err := redis.NewClient(&cfg.Data.Redis, logger, m)
	if err != nil {
		return nil, err
	}
	rt.Lifecycle.OnStop("redis", func() error {
		closeRedis()
		return nil
	})

	redisBreaker := breaker.NewBreaker(breaker.Settings{
		Name:         "redis",
		Config:       cfg.CircuitBreaker,
		IsSuccessful: cache.IsMiss,
	}, m)
	sessions := upload.NewRedisSessionStore(cache.NewRedisCache(rdb, upload.SessionKeyPrefix, redisBreaker, m))
	locker := lock.NewRedisLock(rdb, cfg.Lock.Prefix)

	db, err := database.NewDB(cfg.Data.Database, cfg.CircuitBreaker, logger, m)
	if err != nil {
		return nil, err
	}
	rt.Lifecycle.OnStop("database", db.Close)

	repo := filestore.NewGormRepository(db)
	if cfg.Data.Database.AutoMigrate {
		if err := repo.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate files table: %w", err)
		}
	}

	local, err := cache.NewBigCache(cfg.Upload.RecordCacheTTL, cfg.Data.BigCache)
	if err != nil {
		return nil, err
	}
	recordCache := cache.NewMultiLevelCache(local, cache.NewRedisCache(rdb, recordCachePrefix, redisBreaker, m), logger)
	rt.Lifecycle.OnStop("record-cache", recordCache.Close)
	resolver := filestore.NewCachedResolver(repo, recordCache, cfg.Upload.RecordCacheTTL, logger)

	store, err := storage.NewMinIOClient(cfg.Minio, breaker.NewBreaker(breaker.Settings{
		Name:         "minio",
		Config:       cfg.CircuitBreaker,
		IsSuccessful: storage.IsNotFound,
	}, m))
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	storage.RegisterReloadHook(store)

	var notifier upload.Notifier = upload.NopNotifier{}
	if cfg.MessageQueue.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.MessageQueue.Kafka, logger, m)
		rt.Lifecycle.OnStop("kafka-producer", producer.Close)
		notifier = upload.NewEventNotifier(producer, logger)
	}

	coordinator := upload.NewCoordinator(sessions, repo, store, locker, upload.CoordinatorConfig{
		BreakpointWindow: cfg.Upload.BreakpointWindow,
		PresignExpiry:    cfg.Minio.PresignExpiry,
		LockTTL:          cfg.Upload.LockTTL,
		LockWait:         cfg.Upload.LockWait,
	}, logger, m)
	registry := upload.NewRegistry(sessions, repo, store, cfg.Upload.PartPageSize, logger)
	finalizer := upload.NewFinalizer(sessions, repo, store, locker, rt.IDs, resolver, notifier, upload.FinalizerConfig{
		PublicEndpoint: cfg.Minio.PublicEndpoint,
		PartPageSize:   cfg.Upload.PartPageSize,
		EvictRetry:     retry.DefaultConfig(),
		LockTTL:        cfg.Upload.LockTTL,
		LockWait:       cfg.Upload.LockWait,
	}, logger, m)
	streamer := download.NewStreamer(resolver, store, cfg.Upload.DownloadBufferSize, logger, m)

	handler := api.NewHandler(api.Deps{
		Registry:    registry,
		Coordinator: coordinator,
		Finalizer:   finalizer,
		Streamer:    streamer,
		Files:       repo,
		Invalidator: resolver,
		Downloads:   limiter.NewSemaphoreLimiter(cfg.Upload.MaxDownloads),
		Logger:      logger,
	})

	probes := []health.Probe{
		{Name: "database", Check: health.DBChecker(db)},
		{Name: "redis", Check: health.RedisChecker(rdb)},
		{Name: "minio", Check: health.MinioChecker(store)},
	}
	if cfg.MessageQueue.Kafka.Enabled {
		probes = append(probes, health.Probe{Name: "kafka", Check: health.KafkaChecker(cfg.MessageQueue.Kafka.Brokers)})
	}

	return &app.Service{
		Register:          handler.Register,
		Probes:            probes,
		Redis:             rdb,
		NoTimeoutPrefixes: []string{api.DownloadPathPrefix},
	}, nil
}
