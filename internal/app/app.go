// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/dao"
	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/engine"
	"github.com/haierkeys/fast-backup-service/internal/event"
	"github.com/haierkeys/fast-backup-service/internal/notify"
	"github.com/haierkeys/fast-backup-service/internal/service"
	"github.com/haierkeys/fast-backup-service/pkg/cache"
	"github.com/haierkeys/fast-backup-service/pkg/keylock"
	"github.com/haierkeys/fast-backup-service/pkg/workerpool"
	"github.com/haierkeys/fast-backup-service/pkg/writequeue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 应用容器，封装所有依赖和服务
type App struct {
	// 基础设施（注入的依赖）
	config *AppConfig
	logger *zap.Logger
	DB     *gorm.DB
	Dao    *dao.Dao

	// 并发控制组件
	workerPool    *workerpool.Pool
	writeQueueMgr *writequeue.Manager
	Locks         *keylock.Manager
	Cache         *cache.Cache

	// 事件与监控
	Events   *event.Bus
	Metrics  *prometheus.Registry
	Notifier notify.Notifier
	Engine   engine.Engine

	// Repository 层
	ScheduleRepo domain.ScheduleRepository
	MirrorRepo   domain.MirrorRepository
	VolumeRepo   domain.VolumeRepository
	RepoRepo     domain.RepoRepository
	SessionRepo  domain.SessionRepository

	// Service 层
	BackupService     service.BackupService
	SnapshotService   service.SnapshotService
	RepositoryService service.RepositoryService
	VolumeService     service.VolumeService

	// 关闭控制
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option 可选注入项，测试时替换外部依赖
type Option func(*options)

type options struct {
	engine   engine.Engine
	mounters map[string]domain.Mounter
}

// WithEngine 替换备份引擎
func WithEngine(e engine.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithMounter 为卷后端注册挂载器
func WithMounter(backend string, m domain.Mounter) Option {
	return func(o *options) { o.mounters[backend] = m }
}

// NewApp 创建应用容器实例
// 初始化所有依赖并进行依赖注入
// cfg: 应用配置（必须）
// logger: zap 日志器（必须）
// db: 数据库连接（必须）
func NewApp(cfg *AppConfig, logger *zap.Logger, db *gorm.DB, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	o := &options{mounters: map[string]domain.Mounter{"directory": service.DirectoryMounter{}}}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{
		config: cfg,
		logger: logger,
		DB:     db,
	}

	// 初始化 Worker Pool
	wpConfig := cfg.GetWorkerPoolConfig()
	a.workerPool = workerpool.New(&wpConfig, logger)

	// 初始化 Write Queue Manager
	wqConfig := cfg.GetWriteQueueConfig()
	a.writeQueueMgr = writequeue.New(&wqConfig, logger)

	dbConfig := &dao.DatabaseConfig{
		Type:            cfg.Database.Type,
		Path:            cfg.Database.Path,
		UserName:        cfg.Database.UserName,
		Password:        cfg.Database.Password,
		Host:            cfg.Database.Host,
		Name:            cfg.Database.Name,
		TablePrefix:     cfg.Database.TablePrefix,
		AutoMigrate:     cfg.Database.AutoMigrate,
		Charset:         cfg.Database.Charset,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		RunMode:         cfg.Server.RunMode,
	}

	// 初始化 DAO（使用依赖注入）
	a.Dao = dao.New(db,
		dao.WithConfig(dbConfig),
		dao.WithLogger(logger),
		dao.WithWriteQueueManager(a.writeQueueMgr),
	)

	// 初始化 Repository 层
	a.ScheduleRepo = dao.NewScheduleRepository(a.Dao)
	a.MirrorRepo = dao.NewMirrorRepository(a.Dao)
	a.VolumeRepo = dao.NewVolumeRepository(a.Dao)
	a.RepoRepo = dao.NewRepoRepository(a.Dao)
	a.SessionRepo = dao.NewSessionRepository(a.Dao)

	// 监控指标
	a.Metrics = prometheus.NewRegistry()
	a.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := event.NewMetricsSubscriber(a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics subscriber: %w", err)
	}

	// 事件总线
	a.Events = event.NewBus(logger)
	a.Events.Subscribe(event.NewLogSubscriber(logger))
	a.Events.Subscribe(metrics)

	// 资源锁
	a.Locks = keylock.New(logger.Named("keylock"))
	a.Locks.SetWaitObserver(func(mode keylock.Mode, waited time.Duration) {
		metrics.ObserveLockWait(mode.String(), waited.Seconds())
	})

	svcConfig := cfg.GetServiceConfig()
	a.Cache = cache.New(svcConfig.Snapshot.CacheTTL)

	// 通知
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Notify.Email.Enabled {
		email, err := notify.NewEmailNotifier(cfg.Notify.Email, logger)
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		notifiers = append(notifiers, email)
	}
	a.Notifier = notifiers

	// 备份引擎
	a.Engine = o.engine
	if a.Engine == nil {
		a.Engine = engine.NewRestic(cfg.GetResticConfig(), logger.Named("restic"))
	}

	// 初始化 Service 层（依赖注入）
	a.BackupService = service.NewBackupService(service.BackupServiceDeps{
		Schedules:    a.ScheduleRepo,
		Mirrors:      a.MirrorRepo,
		Repositories: a.RepoRepo,
		Locks:        a.Locks,
		Engine:       a.Engine,
		Events:       a.Events,
		Notifier:     a.Notifier,
		Cache:        a.Cache,
		Async:        a.workerPool,
		Logger:       logger,
	}, svcConfig.Backup)
	a.SnapshotService = service.NewSnapshotService(a.ScheduleRepo, a.RepoRepo, a.Locks, a.Engine, a.Cache, logger)
	a.RepositoryService = service.NewRepositoryService(a.RepoRepo, a.Locks, a.Engine, svcConfig.Repository, logger)
	a.VolumeService = service.NewVolumeService(a.VolumeRepo, o.mounters, logger)

	logger.Info("App container initialized successfully",
		zap.Int("workerPoolMaxWorkers", wpConfig.MaxWorkers),
		zap.Int("writeQueueCapacity", wqConfig.QueueCapacity))

	return a, nil
}

// Close 释放数据库连接
func (a *App) Close() error {
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return fmt.Errorf("failed to get sql.DB: %w", err)
		}
		if err := sqlDB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		a.logger.Info("Database connection closed")
	}
	return nil
}

// Config 获取应用配置
func (a *App) Config() *AppConfig {
	return a.config
}

// Logger 获取日志器
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// WorkerPool 获取 Worker Pool
func (a *App) WorkerPool() *workerpool.Pool {
	return a.workerPool
}

// WriteQueueManager 获取 Write Queue Manager
func (a *App) WriteQueueManager() *writequeue.Manager {
	return a.writeQueueMgr
}

// DefaultShutdownTimeout 默认关闭超时时间
const DefaultShutdownTimeout = 30 * time.Second

// Shutdown 优雅关闭应用容器
// 按顺序关闭：备份（中止运行中的任务并记录状态）-> Worker Pool -> Write Queue Manager -> Database
// 调度器需由调用方在此之前停止
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("App container shutting down...")

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
	}

	var errs error

	// 1. 中止运行中的备份，等待状态写入与已提交的后续任务
	if a.BackupService != nil {
		a.logger.Info("Shutting down backup service...")
		if err := a.BackupService.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("backup service shutdown: %w", err))
		}
	}

	// 2. 关闭 Worker Pool（停止接受新任务，等待现有任务完成）
	if a.workerPool != nil {
		a.logger.Info("Shutting down worker pool...")
		if err := a.workerPool.Shutdown(ctx); err != nil {
			a.logger.Warn("Worker pool shutdown error", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("worker pool shutdown: %w", err))
		}
	}

	// 3. 关闭 Write Queue Manager（排空所有队列）
	if a.writeQueueMgr != nil {
		a.logger.Info("Shutting down write queue manager...")
		if err := a.writeQueueMgr.Shutdown(ctx); err != nil {
			a.logger.Warn("write queue manager shutdown error", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("write queue manager shutdown: %w", err))
		}
	}

	// 4. 关闭数据库连接
	errs = multierr.Append(errs, a.Close())

	if errs != nil {
		a.logger.Warn("App container shutdown completed with errors", zap.Error(errs))
		return errs
	}
	a.logger.Info("App container shutdown completed successfully")
	return nil
}
