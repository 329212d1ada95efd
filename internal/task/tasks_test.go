package task

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/app"
	"github.com/haierkeys/fast-backup-service/internal/dao"
	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/service"
	"github.com/haierkeys/fast-backup-service/pkg/safe_close"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTaskApp(t *testing.T, yaml string) *app.App {
	t.Helper()
	cfg, err := app.ParseConfig([]byte(yaml))
	require.NoError(t, err)

	db, err := dao.NewDBEngineWithConfig(dao.DatabaseConfig{
		Type:        "sqlite",
		Path:        filepath.Join(t.TempDir(), "task.sqlite3"),
		AutoMigrate: true,
	}, zap.NewNop())
	require.NoError(t, err)

	a, err := app.NewApp(cfg, zap.NewNop(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

type fakeBackups struct {
	service.BackupService
	dispatched atomic.Int32
}

func (f *fakeBackups) DispatchDue(context.Context) (int, error) {
	f.dispatched.Add(1)
	return 2, nil
}

func (f *fakeBackups) Shutdown(context.Context) error { return nil }

type fakeVolumes struct {
	health  atomic.Int32
	remount atomic.Int32
}

func (f *fakeVolumes) HealthCheck(context.Context) (service.VolumeHealth, error) {
	f.health.Add(1)
	return service.VolumeHealth{Checked: 2, Unhealthy: 1}, nil
}

func (f *fakeVolumes) AutoRemount(context.Context) (int, error) {
	f.remount.Add(1)
	return 1, nil
}

type fakeRepositories struct {
	service.RepositoryService
	checks atomic.Int32
}

func (f *fakeRepositories) CheckAll(context.Context) (service.CheckSummary, error) {
	f.checks.Add(1)
	return service.CheckSummary{Healthy: 1, Failed: 1}, nil
}

func TestFactoriesBuildEveryTask(t *testing.T) {
	a := newTaskApp(t, "{}")
	m := NewManager(zap.NewNop(), safe_close.NewSafeClose(), a)
	require.NoError(t, m.RegisterTasks())

	names := map[string]time.Duration{}
	for _, task := range m.Scheduler().Tasks() {
		names[task.Name()] = task.LoopInterval()
	}
	assert.Equal(t, map[string]time.Duration{
		"BackupScheduled":       time.Minute,
		"VolumeHealthCheck":     5 * time.Minute,
		"VolumeAutoRemount":     5 * time.Minute,
		"SessionCleanup":        time.Hour,
		"RepositoryHealthCheck": 24 * time.Hour,
	}, names)
}

func TestDisabledIntervalsSkipTasks(t *testing.T) {
	a := newTaskApp(t, `
scheduler:
  volume-remount-interval: 0
  repository-health-interval: 0
  startup-run: false
`)
	m := NewManager(zap.NewNop(), safe_close.NewSafeClose(), a)
	require.NoError(t, m.RegisterTasks())

	var names []string
	for _, task := range m.Scheduler().Tasks() {
		names = append(names, task.Name())
		assert.False(t, task.IsStartupRun(), task.Name())
	}
	assert.NotContains(t, names, "VolumeAutoRemount")
	assert.NotContains(t, names, "RepositoryHealthCheck")
	assert.Contains(t, names, "BackupScheduled")
}

func TestTasksCallTheirServices(t *testing.T) {
	a := newTaskApp(t, "{}")
	backups := &fakeBackups{}
	volumes := &fakeVolumes{}
	repos := &fakeRepositories{}
	a.BackupService = backups
	a.VolumeService = volumes
	a.RepositoryService = repos
	ctx := context.Background()

	tasks := []func(*app.App) (Task, error){
		NewBackupTask, NewVolumeHealthTask, NewVolumeRemountTask, NewRepositoryHealthTask,
	}
	for _, factory := range tasks {
		task, err := factory(a)
		require.NoError(t, err)
		require.NotNil(t, task)
		require.NoError(t, task.Run(ctx), task.Name())
	}

	assert.Equal(t, int32(1), backups.dispatched.Load())
	assert.Equal(t, int32(1), volumes.health.Load())
	assert.Equal(t, int32(1), volumes.remount.Load())
	assert.Equal(t, int32(1), repos.checks.Load())
}

func TestSessionCleanupDeletesExpired(t *testing.T) {
	a := newTaskApp(t, "{}")
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, a.SessionRepo.Create(ctx, &domain.Session{ID: "old", Subject: "admin", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, a.SessionRepo.Create(ctx, &domain.Session{ID: "live", Subject: "admin", ExpiresAt: now.Add(time.Hour)}))

	task, err := NewSessionCleanupTask(a)
	require.NoError(t, err)
	cleanup := task.(*SessionCleanupTask)
	cleanup.now = func() time.Time { return now }
	require.NoError(t, cleanup.Run(ctx))

	n, err := a.SessionRepo.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the live session should remain")
}
