package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	internalApp "github.com/haierkeys/fast-backup-service/internal/app"
	"github.com/haierkeys/fast-backup-service/internal/dao"
	"github.com/haierkeys/fast-backup-service/pkg/code"
	"github.com/haierkeys/fast-backup-service/pkg/fileurl"
	"github.com/haierkeys/fast-backup-service/pkg/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// bootstrapLogger bootstrap stage logger
// bootstrapLogger 启动阶段日志器
// Used to record logs during the startup process before the main logger is initialized
// 用于在主日志器初始化之前记录启动过程中的日志
var bootstrapLogger *zap.Logger

func init() {
	// Create encoder configuration for console output
	// 创建控制台输出的 encoder 配置
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// Create console output
	// 创建控制台输出
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	consoleWriter := zapcore.Lock(os.Stderr)

	// Set log level based on DEBUG environment variable
	// 根据 DEBUG 环境变量设置日志级别
	level := zapcore.InfoLevel
	if os.Getenv("DEBUG") != "" {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(consoleEncoder, consoleWriter, level)
	bootstrapLogger = zap.New(core, zap.AddCaller())
}

// resolveConfig picks the config file to use, writing the embedded default
// to config/config.yaml when none exists.
// resolveConfig 查找配置文件，不存在时写出默认配置
func resolveConfig(path string) (string, error) {
	if len(path) > 0 {
		return path, nil
	}
	for _, candidate := range []string{"config/config-dev.yaml", "config.yaml", "config/config.yaml"} {
		if fileurl.IsExist(candidate) {
			return candidate, nil
		}
	}

	bootstrapLogger.Warn("config file not found, creating default config")
	path = "config/config.yaml"
	if err := fileurl.CreatePath(path, os.ModePerm); err != nil {
		return "", fmt.Errorf("config file auto create: %w", err)
	}
	if err := os.WriteFile(path, []byte(configDefault), 0o644); err != nil {
		return "", fmt.Errorf("config file auto create writing: %w", err)
	}
	bootstrapLogger.Info("config file auto create successfully", zap.String("path", path))
	return path, nil
}

// prepareDirs 创建日志、数据库与引擎缓存目录
func prepareDirs(cfg *internalApp.AppConfig) error {
	dirs := []string{cfg.Engine.CacheDir}
	if cfg.Log.File != "" {
		dirs = append(dirs, filepath.Dir(cfg.Log.File))
	}
	if cfg.Database.Type == "sqlite" {
		dirs = append(dirs, filepath.Dir(cfg.Database.Path))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := fileurl.EnsureDir(dir, 0o754); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// openDatabase 转换配置并打开数据库
func openDatabase(cfg *internalApp.AppConfig, lg *zap.Logger) (*gorm.DB, error) {
	return dao.NewDBEngineWithConfig(dao.DatabaseConfig{
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
	}, lg)
}

// openApp builds the App container for one-shot commands
// openApp 为一次性命令创建 App 容器，调用方负责 Shutdown
func openApp(configPath string) (*internalApp.App, error) {
	path, err := resolveConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg, _, err := internalApp.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := prepareDirs(cfg); err != nil {
		return nil, err
	}
	_ = code.SetGlobalDefaultLang(cfg.Server.Lang)
	lg, err := logger.NewLogger(cfg.GetLoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	db, err := openDatabase(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("initDatabase: %w", err)
	}
	a, err := internalApp.NewApp(cfg, lg, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create app container: %w", err)
	}
	return a, nil
}
