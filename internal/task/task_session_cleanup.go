package task

import (
	"context"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/app"
	"go.uber.org/zap"
)

// SessionCleanupTask 清理过期会话
type SessionCleanupTask struct {
	app        *app.App
	interval   time.Duration
	startupRun bool
	now        func() time.Time
}

func (t *SessionCleanupTask) Name() string                { return "SessionCleanup" }
func (t *SessionCleanupTask) LoopInterval() time.Duration { return t.interval }
func (t *SessionCleanupTask) IsStartupRun() bool          { return t.startupRun }

func (t *SessionCleanupTask) Run(ctx context.Context) error {
	n, err := t.app.SessionRepo.DeleteExpired(ctx, t.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		t.app.Logger().Info("task log", zap.String("task", t.Name()), zap.Int64("deleted", n))
	}
	return nil
}

// NewSessionCleanupTask 创建会话清理任务
func NewSessionCleanupTask(appContainer *app.App) (Task, error) {
	interval, startup := schedule(appContainer, appContainer.Config().Scheduler.SessionCleanupInterval)
	if interval <= 0 {
		return nil, nil
	}
	return &SessionCleanupTask{app: appContainer, interval: interval, startupRun: startup, now: time.Now}, nil
}

func init() {
	RegisterWithApp(func(appContainer *app.App) (Task, error) {
		return NewSessionCleanupTask(appContainer)
	})
}
