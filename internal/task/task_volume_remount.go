package task

import (
	"context"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/app"
	"go.uber.org/zap"
)

// VolumeRemountTask 自动重新挂载异常卷
type VolumeRemountTask struct {
	app      *app.App
	interval time.Duration
}

func (t *VolumeRemountTask) Name() string                { return "VolumeAutoRemount" }
func (t *VolumeRemountTask) LoopInterval() time.Duration { return t.interval }

// IsStartupRun 启动时由健康检查先标记异常卷，重新挂载等下一个周期
func (t *VolumeRemountTask) IsStartupRun() bool { return false }

func (t *VolumeRemountTask) Run(ctx context.Context) error {
	n, err := t.app.VolumeService.AutoRemount(ctx)
	if n > 0 {
		t.app.Logger().Info("task log", zap.String("task", t.Name()), zap.Int("remounted", n))
	}
	return err
}

// NewVolumeRemountTask 创建自动重新挂载任务
func NewVolumeRemountTask(appContainer *app.App) (Task, error) {
	interval, _ := schedule(appContainer, appContainer.Config().Scheduler.VolumeRemountInterval)
	if interval <= 0 {
		return nil, nil
	}
	return &VolumeRemountTask{app: appContainer, interval: interval}, nil
}

func init() {
	RegisterWithApp(func(appContainer *app.App) (Task, error) {
		return NewVolumeRemountTask(appContainer)
	})
}
