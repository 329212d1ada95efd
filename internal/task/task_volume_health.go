package task

import (
	"context"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/app"
	"go.uber.org/zap"
)

// VolumeHealthTask 卷健康检查任务
type VolumeHealthTask struct {
	app        *app.App
	interval   time.Duration
	startupRun bool
}

func (t *VolumeHealthTask) Name() string                { return "VolumeHealthCheck" }
func (t *VolumeHealthTask) LoopInterval() time.Duration { return t.interval }
func (t *VolumeHealthTask) IsStartupRun() bool          { return t.startupRun }

// Run 检查所有已挂载卷
func (t *VolumeHealthTask) Run(ctx context.Context) error {
	h, err := t.app.VolumeService.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if h.Unhealthy > 0 {
		t.app.Logger().Warn("task log",
			zap.String("task", t.Name()),
			zap.Int("checked", h.Checked),
			zap.Int("unhealthy", h.Unhealthy))
	}
	return nil
}

// NewVolumeHealthTask 创建卷健康检查任务
func NewVolumeHealthTask(appContainer *app.App) (Task, error) {
	interval, startup := schedule(appContainer, appContainer.Config().Scheduler.VolumeHealthInterval)
	if interval <= 0 {
		return nil, nil
	}
	return &VolumeHealthTask{app: appContainer, interval: interval, startupRun: startup}, nil
}

func init() {
	RegisterWithApp(func(appContainer *app.App) (Task, error) {
		return NewVolumeHealthTask(appContainer)
	})
}
