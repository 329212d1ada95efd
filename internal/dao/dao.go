package dao

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/model"
	"github.com/haierkeys/fast-backup-service/pkg/util"
	"github.com/haierkeys/fast-backup-service/pkg/writequeue"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type            string // sqlite, mysql, postgres
	Path            string // sqlite 文件路径
	UserName        string
	Password        string
	Host            string
	Name            string
	TablePrefix     string
	AutoMigrate     bool
	Charset         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime string
	ConnMaxIdleTime string
	RunMode         string
}

// Dao 数据访问对象，持有连接与写队列
type Dao struct {
	Db         *gorm.DB
	config     *DatabaseConfig
	logger     *zap.Logger
	writeQueue *writequeue.Manager
}

// Option Dao 可选配置
type Option func(*Dao)

// WithConfig 设置数据库配置
func WithConfig(c *DatabaseConfig) Option {
	return func(d *Dao) { d.config = c }
}

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) Option {
	return func(d *Dao) { d.logger = l }
}

// WithWriteQueueManager routes writes through a serialized queue
// WithWriteQueueManager 设置写队列管理器
func WithWriteQueueManager(m *writequeue.Manager) Option {
	return func(d *Dao) { d.writeQueue = m }
}

// New 创建 Dao
func New(db *gorm.DB, opts ...Option) *Dao {
	d := &Dao{Db: db}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.config == nil {
		d.config = &DatabaseConfig{Type: "sqlite"}
	}
	return d
}

// DB returns a session bound to ctx
func (d *Dao) DB(ctx context.Context) *gorm.DB {
	return d.Db.WithContext(ctx)
}

// Migrate 自动迁移表结构
func (d *Dao) Migrate() error {
	if err := model.AutoMigrate(d.Db); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}

// writeKey SQLite has a single writer, so every write shares one queue there.
// Server databases serialize per table only.
func (d *Dao) writeKey(table string) string {
	if d.config.Type == "" || d.config.Type == "sqlite" {
		return "sqlite"
	}
	return table
}

// ExecuteWrite runs fn through the write queue for table, or directly when no queue is configured
// ExecuteWrite 通过写队列串行执行写操作
func (d *Dao) ExecuteWrite(ctx context.Context, table string, fn func(db *gorm.DB) error) error {
	if d.writeQueue == nil {
		return fn(d.DB(ctx))
	}
	return d.writeQueue.Execute(ctx, d.writeKey(table), func() error {
		return fn(d.DB(ctx))
	})
}

// NewShortID short identity used as snapshot tag and lock key
func NewShortID() string {
	return uuid.NewString()[:8]
}

// NewDBEngineWithConfig opens the configured database
// NewDBEngineWithConfig 根据配置创建数据库连接
func NewDBEngineWithConfig(c DatabaseConfig, lg *zap.Logger) (*gorm.DB, error) {
	dialector, err := dialector(c)
	if err != nil {
		return nil, err
	}

	logMode := logger.Silent
	if c.RunMode == "debug" {
		logMode = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logMode),
		NowFunc: func() time.Time { return time.Now().UTC() },
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   c.TablePrefix,
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", c.Type)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}

	if c.Type == "sqlite" {
		// one connection keeps SQLite writes from tripping over each other
		sqlDB.SetMaxOpenConns(1)
	} else {
		if c.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(c.MaxIdleConns)
		}
		if c.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(c.MaxOpenConns)
		}
	}
	sqlDB.SetConnMaxLifetime(parseDurationOr(c.ConnMaxLifetime, 30*time.Minute))
	sqlDB.SetConnMaxIdleTime(parseDurationOr(c.ConnMaxIdleTime, 10*time.Minute))

	if c.AutoMigrate {
		if err := model.AutoMigrate(db); err != nil {
			return nil, errors.Wrap(err, "auto migrate")
		}
	}

	if lg != nil {
		lg.Info("database connected", zap.String("type", c.Type))
	}
	return db, nil
}

func dialector(c DatabaseConfig) (gorm.Dialector, error) {
	switch c.Type {
	case "mysql":
		charset := c.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=%s&parseTime=true&loc=Local",
			c.UserName, c.Password, c.Host, c.Name, charset)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			c.Host, c.UserName, c.Password, c.Name)), nil
	case "sqlite", "":
		if c.Path == "" {
			return nil, errors.New("sqlite path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
		return sqlite.Open(c.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"), nil
	}
	return nil, errors.Errorf("unsupported database type %q", c.Type)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := util.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// utcPtr timestamps are stored in UTC so range comparisons stay lexical-safe on SQLite
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
