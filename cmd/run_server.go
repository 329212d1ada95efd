package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	internalApp "github.com/haierkeys/fast-backup-service/internal/app"
	"github.com/haierkeys/fast-backup-service/internal/routers"
	"github.com/haierkeys/fast-backup-service/internal/task"
	"github.com/haierkeys/fast-backup-service/pkg/code"
	"github.com/haierkeys/fast-backup-service/pkg/logger"
	"github.com/haierkeys/fast-backup-service/pkg/safe_close"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server 守护进程：调度器、私有 HTTP 与 App 容器
type Server struct {
	logger            *zap.Logger
	config            *internalApp.AppConfig
	privateHttpServer *http.Server
	sc                *safe_close.SafeClose
	app               *internalApp.App
	tasks             *task.Manager
}

func NewServer(runEnv *runFlags) (*Server, error) {
	appConfig, configRealpath, err := internalApp.LoadConfig(runEnv.config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	runMode := runEnv.runMode
	if len(runMode) <= 0 {
		runMode = appConfig.Server.RunMode
	}
	gin.SetMode(runMode)

	if len(runEnv.listen) > 0 {
		appConfig.Server.PrivateHttpListen = runEnv.listen
	}

	if err := prepareDirs(appConfig); err != nil {
		return nil, fmt.Errorf("initStorage: %w", err)
	}

	_ = code.SetGlobalDefaultLang(appConfig.Server.Lang)

	lg, err := logger.NewLogger(appConfig.GetLoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("initLogger: %w", err)
	}

	s := &Server{
		logger: lg,
		config: appConfig,
		sc:     safe_close.NewSafeClose(),
	}

	db, err := openDatabase(appConfig, lg)
	if err != nil {
		return nil, fmt.Errorf("initDatabase: %w", err)
	}

	app, err := internalApp.NewApp(appConfig, lg, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create app container: %w", err)
	}
	s.app = app

	// 上次进程退出时仍在运行的备份
	if n, err := app.BackupService.FailInterrupted(context.Background()); err != nil {
		lg.Error("failed to reset interrupted backups", zap.Error(err))
	} else if n > 0 {
		lg.Warn("interrupted backups marked as failed", zap.Int("count", n))
	}

	// 启动调度器
	s.tasks = task.NewManager(lg, s.sc, app)
	if err := s.tasks.RegisterTasks(); err != nil {
		_ = app.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to register tasks: %w", err)
	}
	s.tasks.Start()

	banner := `
    ______           __     ____             __
   / ____/___ ______/ /_   / __ )____ ______/ /____  ______
  / /_  / __ '/ ___/ __/  / __  / __ '/ ___/ //_/ / / / __ \
 / __/ / /_/ (__  ) /_   / /_/ / /_/ / /__/ ,< / /_/ / /_/ /
/_/    \__,_/____/\__/  /_____/\__,_/\___/_/|_|\__,_/ .___/
                                                   /_/       `
	lg.Warn(fmt.Sprintf("%s\n\n%s v%s\nGit: %s\nBuildTime: %s\n", banner, internalApp.Name, internalApp.Version, internalApp.GitTag, internalApp.BuildTime))
	lg.Warn("config loaded", zap.String("path", configRealpath))

	if httpAddr := appConfig.Server.PrivateHttpListen; len(httpAddr) > 0 {
		lg.Info("private_router", zap.String("config.server.PrivateHttpListen", httpAddr))
		s.privateHttpServer = &http.Server{
			Addr:              httpAddr,
			Handler:           routers.NewPrivateRouter(app, runMode, lg),
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}

		s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
			defer done()
			errChan := make(chan error, 1)
			go func() {
				errChan <- s.privateHttpServer.ListenAndServe()
			}()
			select {
			case err := <-errChan:
				lg.Error("private api service err", zap.Error(err))
				s.sc.SendCloseSignal(err)
			case <-closeSignal:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				// 停止 HTTP 服务器
				if err := s.privateHttpServer.Shutdown(ctx); err != nil {
					lg.Error("private api service shutdown error", zap.Error(err))
				}
			}
		})
	}

	// 关闭顺序：调度器 -> 备份 -> Worker Pool -> Write Queue -> 数据库
	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		<-closeSignal

		s.tasks.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), internalApp.DefaultShutdownTimeout)
		defer cancel()
		if err := s.app.Shutdown(ctx); err != nil {
			lg.Error("failed to shutdown app container", zap.Error(err))
		} else {
			lg.Info("App container shutdown gracefully")
		}
	})

	return s, nil
}

// Stop sends the close signal and waits for every component to finish
// Stop 发送关闭信号并等待所有组件退出
func (s *Server) Stop() {
	s.sc.SendCloseSignal(nil)
	if err := s.sc.WaitClosed(); err != nil {
		s.logger.Error("Shutdown completed with error", zap.Error(err))
	} else {
		s.logger.Info("Service has been shut down gracefully.")
	}
	_ = s.logger.Sync()
}

// GetApp 获取 App Container
func (s *Server) GetApp() *internalApp.App {
	return s.app
}

// GetConfig 获取应用配置
func (s *Server) GetConfig() *internalApp.AppConfig {
	return s.config
}
