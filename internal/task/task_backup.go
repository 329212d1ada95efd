package task

import (
	"context"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/app"
	"go.uber.org/zap"
)

// BackupTask dispatches due backup schedules; it never waits for the backups themselves
type BackupTask struct {
	app        *app.App
	interval   time.Duration
	startupRun bool
	logger     *zap.Logger
}

// Name returns the task name
func (t *BackupTask) Name() string {
	return "BackupScheduled"
}

// LoopInterval returns the execution interval
func (t *BackupTask) LoopInterval() time.Duration {
	return t.interval
}

// IsStartupRun returns whether to run on startup
func (t *BackupTask) IsStartupRun() bool {
	return t.startupRun
}

// Run dispatches every due schedule
func (t *BackupTask) Run(ctx context.Context) error {
	if t.app.BackupService == nil {
		return nil
	}
	n, err := t.app.BackupService.DispatchDue(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		t.logger.Info("task log",
			zap.String("task", t.Name()),
			zap.Int("dispatched", n))
	}
	return nil
}

// NewBackupTask creates a new BackupTask instance
func NewBackupTask(appContainer *app.App) (Task, error) {
	interval, startup := schedule(appContainer, appContainer.Config().Scheduler.BackupInterval)
	if interval <= 0 {
		return nil, nil
	}
	return &BackupTask{
		app:        appContainer,
		interval:   interval,
		startupRun: startup,
		logger:     appContainer.Logger(),
	}, nil
}

// schedule interval and startup flag of a task from the scheduler config
func schedule(a *app.App, interval string) (time.Duration, bool) {
	cfg := a.Config().Scheduler
	return cfg.Interval(interval), cfg.StartupRun
}

// init registers the backup task
func init() {
	RegisterWithApp(func(appContainer *app.App) (Task, error) {
		return NewBackupTask(appContainer)
	})
}
