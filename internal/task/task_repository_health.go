package task

import (
	"context"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/app"
	"go.uber.org/zap"
)

// RepositoryHealthTask runs the engine integrity check on every repository
type RepositoryHealthTask struct {
	app      *app.App
	interval time.Duration
}

func (t *RepositoryHealthTask) Name() string                { return "RepositoryHealthCheck" }
func (t *RepositoryHealthTask) LoopInterval() time.Duration { return t.interval }

// IsStartupRun checks are expensive, so they never run at startup
func (t *RepositoryHealthTask) IsStartupRun() bool { return false }

func (t *RepositoryHealthTask) Run(ctx context.Context) error {
	sum, err := t.app.RepositoryService.CheckAll(ctx)
	if err != nil {
		return err
	}
	t.app.Logger().Info("task log",
		zap.String("task", t.Name()),
		zap.Int("healthy", sum.Healthy),
		zap.Int("failed", sum.Failed))
	return nil
}

// NewRepositoryHealthTask 创建仓库检查任务
func NewRepositoryHealthTask(appContainer *app.App) (Task, error) {
	interval, _ := schedule(appContainer, appContainer.Config().Scheduler.RepositoryHealthInterval)
	if interval <= 0 {
		return nil, nil
	}
	return &RepositoryHealthTask{app: appContainer, interval: interval}, nil
}

func init() {
	RegisterWithApp(func(appContainer *app.App) (Task, error) {
		return NewRepositoryHealthTask(appContainer)
	})
}
