// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/engine"
	"github.com/haierkeys/fast-backup-service/internal/notify"
	"github.com/haierkeys/fast-backup-service/internal/service"
	"github.com/haierkeys/fast-backup-service/pkg/logger"
	"github.com/haierkeys/fast-backup-service/pkg/util"
	"github.com/haierkeys/fast-backup-service/pkg/workerpool"
	"github.com/haierkeys/fast-backup-service/pkg/writequeue"

	"github.com/creasty/defaults"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AppConfig 应用配置
type AppConfig struct {
	File      string          `yaml:"-"` // 配置文件路径，不序列化
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	App       AppSettings     `yaml:"app"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别，参见 zapcore.ParseLevel
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error dpanic panic fatal"`
	// File 日志文件路径，为空时只输出到 stderr
	File string `yaml:"file" default:"storage/logs/log.log"`
	// Production 是否启用 JSON 输出
	Production bool `yaml:"production" default:"true"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// RunMode 运行模式
	RunMode string `yaml:"run-mode" default:"release" validate:"oneof=debug release test"`
	// PrivateHttpListen 私有 HTTP 监听地址（/metrics, /healthz），为空则不启动
	PrivateHttpListen string `yaml:"private-http-listen" default:":9001"`
	// Lang 错误消息与配置校验提示的语言
	Lang string `yaml:"lang" default:"en" validate:"oneof=en zh_cn"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Type 数据库类型
	Type string `yaml:"type" default:"sqlite" validate:"oneof=sqlite mysql postgres"`
	// Path SQLite 数据库文件路径
	Path string `yaml:"path" default:"storage/database/db.sqlite3" validate:"required_if=Type sqlite"`
	// UserName 用户名
	UserName string `yaml:"username"`
	// Password 密码
	Password string `yaml:"password"`
	// Host 主机
	Host string `yaml:"host" validate:"required_unless=Type sqlite"`
	// Name 数据库名
	Name string `yaml:"name" validate:"required_unless=Type sqlite"`
	// TablePrefix 表前缀
	TablePrefix string `yaml:"table-prefix"`
	// AutoMigrate 是否启用自动迁移
	AutoMigrate bool `yaml:"auto-migrate" default:"true"`
	// Charset 字符集
	Charset string `yaml:"charset"`
	// MaxIdleConns 最大闲置连接数，默认 10
	MaxIdleConns int `yaml:"max-idle-conns" default:"10" validate:"gte=0"`
	// MaxOpenConns 最大打开连接数，默认 100；sqlite 固定为 1
	MaxOpenConns int `yaml:"max-open-conns" default:"100" validate:"gte=0"`
	// ConnMaxLifetime 连接最大生命周期，支持格式：30m（分钟）、1h（小时），默认 30m
	ConnMaxLifetime string `yaml:"conn-max-lifetime" default:"30m" validate:"duration"`
	// ConnMaxIdleTime 空闲连接最大生命周期，默认 10m
	ConnMaxIdleTime string `yaml:"conn-max-idle-time" default:"10m" validate:"duration"`
}

// EngineConfig 备份引擎（restic）配置
type EngineConfig struct {
	// Binary restic 可执行文件
	Binary string `yaml:"binary" default:"restic" validate:"required"`
	// CacheDir restic 缓存目录，为空使用 restic 默认值
	CacheDir string `yaml:"cache-dir" default:"storage/cache/restic"`
	// RetryLock 仓库被锁时 restic 自行重试的时长
	RetryLock string `yaml:"retry-lock" default:"2m" validate:"omitempty,duration"`
	// PartialSuccessExitCode 部分文件无法读取时的退出码，记为 warning
	PartialSuccessExitCode int `yaml:"partial-success-exit-code" default:"3" validate:"gt=0"`
	// ProgressInterval 进度事件最小间隔
	ProgressInterval string `yaml:"progress-interval" default:"1s" validate:"duration"`
	// KillGrace 取消后从 SIGINT 到 SIGKILL 的等待时间
	KillGrace string `yaml:"kill-grace" default:"10s" validate:"duration"`
	// PruneOnForget forget 后是否 prune
	PruneOnForget bool `yaml:"prune-on-forget" default:"true"`
}

// SchedulerConfig 定时任务配置，间隔为 0 表示禁用该任务
type SchedulerConfig struct {
	// BackupInterval 检查到期备份的间隔
	BackupInterval string `yaml:"backup-interval" default:"1m" validate:"duration"`
	// VolumeHealthInterval 卷健康检查间隔
	VolumeHealthInterval string `yaml:"volume-health-interval" default:"5m" validate:"duration"`
	// VolumeRemountInterval 自动重新挂载间隔
	VolumeRemountInterval string `yaml:"volume-remount-interval" default:"5m" validate:"duration"`
	// SessionCleanupInterval 过期会话清理间隔
	SessionCleanupInterval string `yaml:"session-cleanup-interval" default:"1h" validate:"duration"`
	// RepositoryHealthInterval 仓库检查间隔
	RepositoryHealthInterval string `yaml:"repository-health-interval" default:"1d" validate:"duration"`
	// StartupRun 启动时立即执行一次
	StartupRun bool `yaml:"startup-run" default:"true"`
}

// AppSettings 应用设置
type AppSettings struct {
	// Worker Pool 配置（保留清理、镜像复制、通知）
	WorkerPoolMaxWorkers int `yaml:"worker-pool-max-workers" default:"4" validate:"gte=0"`
	WorkerPoolQueueSize  int `yaml:"worker-pool-queue-size" default:"256" validate:"gte=0"`

	// Write Queue 配置
	WriteQueueCapacity int    `yaml:"write-queue-capacity" default:"100" validate:"gte=0"`
	WriteQueueTimeout  string `yaml:"write-queue-timeout" default:"30s" validate:"duration"`
	WriteQueueIdleTime string `yaml:"write-queue-idle-time" default:"10m" validate:"duration"`

	// SnapshotCacheTTL 快照列表缓存时间
	SnapshotCacheTTL string `yaml:"snapshot-cache-ttl" default:"5m" validate:"duration"`
	// StatusWriteTimeout 取消后状态写入的超时
	StatusWriteTimeout string `yaml:"status-write-timeout" default:"30s" validate:"duration"`
	// RepositoryCheckConcurrency 并行仓库检查数量
	RepositoryCheckConcurrency int `yaml:"repository-check-concurrency" default:"2" validate:"gte=0"`
}

// NotifyConfig 通知配置
type NotifyConfig struct {
	Email notify.EmailConfig `yaml:"email"`
}

// LoadConfig 从文件加载配置
// 返回配置实例和配置文件的绝对路径
func LoadConfig(f string) (*AppConfig, string, error) {
	realpath, err := filepath.Abs(f)
	if err != nil {
		return nil, "", err
	}
	realpath = filepath.Clean(realpath)

	file, err := os.ReadFile(realpath)
	if err != nil {
		return nil, realpath, errors.Wrap(err, "read config file failed")
	}

	c, err := ParseConfig(file)
	if err != nil {
		return nil, realpath, err
	}
	c.File = realpath
	return c, realpath, nil
}

// ParseConfig 解析并校验 YAML 配置
func ParseConfig(data []byte) (*AppConfig, error) {
	c := new(AppConfig)

	// 设置默认值
	if err := defaults.Set(c); err != nil {
		return nil, errors.Wrap(err, "set default config failed")
	}

	// 只在解析前填充默认值，解析后再填充会把显式的 false 改回 true
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "parse config file failed")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var configValidate, configTrans = newConfigValidator()

func newConfigValidator() (*validator.Validate, *ut.UniversalTranslator) {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.TrimSpace(s) == "" {
			return true
		}
		d, err := util.ParseDuration(s)
		return err == nil && d >= 0
	})

	uni := ut.New(en.New(), en.New(), zh.New())
	enTran, _ := uni.GetTranslator("en")
	zhTran, _ := uni.GetTranslator("zh")
	_ = en_translations.RegisterDefaultTranslations(v, enTran)
	_ = zh_translations.RegisterDefaultTranslations(v, zhTran)
	for _, tr := range []ut.Translator{enTran, zhTran} {
		msg := "{0} must be a duration such as 30s, 5m or 1d"
		if tr.Locale() == "zh" {
			msg = "{0} 必须是时长，例如 30s、5m 或 1d"
		}
		_ = v.RegisterTranslation("duration", tr, func(trans ut.Translator) error {
			return trans.Add("duration", msg, true)
		}, func(trans ut.Translator, fe validator.FieldError) string {
			t, _ := trans.T("duration", fe.Field())
			return t
		})
	}
	return v, uni
}

// translator 按 server.lang 选择校验提示语言
func (c *AppConfig) translator() ut.Translator {
	locale := "en"
	if c.Server.Lang == "zh_cn" {
		locale = "zh"
	}
	tr, _ := configTrans.GetTranslator(locale)
	return tr
}

// Validate 校验配置
func (c *AppConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			tr := c.translator()
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Namespace()+": "+fe.Translate(tr))
			}
			return errors.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return errors.Wrap(err, "validate config")
	}
	if c.Notify.Email.Enabled {
		if c.Notify.Email.Host == "" || c.Notify.Email.From == "" || len(c.Notify.Email.To) == 0 {
			return errors.New("invalid config: notify.email requires host, from and to when enabled")
		}
	}
	return nil
}

// Save 保存配置到文件
func (c *AppConfig) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config failed")
	}

	err = os.WriteFile(c.File, data, 0644)
	if err != nil {
		return errors.Wrap(err, "write config file failed")
	}

	return nil
}

func durationOr(s string, def time.Duration) time.Duration {
	if strings.TrimSpace(s) == "" {
		return def
	}
	if d, err := util.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// GetLoggerConfig 获取日志配置
func (c *AppConfig) GetLoggerConfig() logger.Config {
	return logger.Config{Level: c.Log.Level, File: c.Log.File, Production: c.Log.Production}
}

// GetWorkerPoolConfig 获取 Worker Pool 配置
func (c *AppConfig) GetWorkerPoolConfig() workerpool.Config {
	cfg := workerpool.DefaultConfig()

	if c.App.WorkerPoolMaxWorkers > 0 {
		cfg.MaxWorkers = c.App.WorkerPoolMaxWorkers
	}
	if c.App.WorkerPoolQueueSize > 0 {
		cfg.QueueSize = c.App.WorkerPoolQueueSize
	}

	return cfg
}

// GetWriteQueueConfig 获取 Write Queue 配置
func (c *AppConfig) GetWriteQueueConfig() writequeue.Config {
	cfg := writequeue.DefaultConfig()

	if c.App.WriteQueueCapacity > 0 {
		cfg.QueueCapacity = c.App.WriteQueueCapacity
	}
	cfg.WriteTimeout = durationOr(c.App.WriteQueueTimeout, cfg.WriteTimeout)
	cfg.IdleTimeout = durationOr(c.App.WriteQueueIdleTime, cfg.IdleTimeout)

	return cfg
}

// GetResticConfig 获取 restic 适配器配置
func (c *AppConfig) GetResticConfig() engine.ResticConfig {
	return engine.ResticConfig{
		Binary:           c.Engine.Binary,
		CacheDir:         c.Engine.CacheDir,
		RetryLock:        c.Engine.RetryLock,
		ProgressInterval: durationOr(c.Engine.ProgressInterval, time.Second),
		KillGrace:        durationOr(c.Engine.KillGrace, 10*time.Second),
	}
}

// GetServiceConfig 获取服务层配置
func (c *AppConfig) GetServiceConfig() service.ServiceConfig {
	backup := service.DefaultBackupServiceConfig()
	backup.PartialSuccessExitCode = c.Engine.PartialSuccessExitCode
	backup.PruneOnForget = c.Engine.PruneOnForget
	backup.StatusWriteTimeout = durationOr(c.App.StatusWriteTimeout, backup.StatusWriteTimeout)

	return service.ServiceConfig{
		Backup:     backup,
		Repository: service.RepositoryServiceConfig{CheckConcurrency: c.App.RepositoryCheckConcurrency},
		Snapshot:   service.SnapshotServiceConfig{CacheTTL: durationOr(c.App.SnapshotCacheTTL, 5*time.Minute)},
	}
}

// Interval 解析调度间隔，无效或为空时返回 0（禁用）
func (c SchedulerConfig) Interval(s string) time.Duration {
	return durationOr(s, 0)
}
