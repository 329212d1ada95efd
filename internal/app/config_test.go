package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	c, err := ParseConfig([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", c.Database.Type)
	assert.Equal(t, "restic", c.Engine.Binary)
	assert.Equal(t, 3, c.Engine.PartialSuccessExitCode)
	assert.True(t, c.Scheduler.StartupRun)
	assert.Equal(t, time.Minute, c.Scheduler.Interval(c.Scheduler.BackupInterval))
	assert.Equal(t, 24*time.Hour, c.Scheduler.Interval(c.Scheduler.RepositoryHealthInterval))
	assert.Equal(t, 587, c.Notify.Email.Port)

	svc := c.GetServiceConfig()
	assert.Equal(t, 30*time.Second, svc.Backup.StatusWriteTimeout)
	assert.True(t, svc.Backup.PruneOnForget)
	assert.Equal(t, 5*time.Minute, svc.Snapshot.CacheTTL)

	restic := c.GetResticConfig()
	assert.Equal(t, time.Second, restic.ProgressInterval)
	assert.Equal(t, 10*time.Second, restic.KillGrace)
	assert.Equal(t, "2m", restic.RetryLock)
}

func TestParseConfigOverrides(t *testing.T) {
	c, err := ParseConfig([]byte(`
engine:
  partial-success-exit-code: 5
  prune-on-forget: false
scheduler:
  startup-run: false
  backup-interval: 30s
  repository-health-interval: 0
app:
  worker-pool-max-workers: 8
  write-queue-timeout: 1m
`))
	require.NoError(t, err)

	assert.False(t, c.Scheduler.StartupRun, "explicit false must survive defaults")
	assert.False(t, c.GetServiceConfig().Backup.PruneOnForget)
	assert.Equal(t, 5, c.GetServiceConfig().Backup.PartialSuccessExitCode)
	assert.Equal(t, 30*time.Second, c.Scheduler.Interval(c.Scheduler.BackupInterval))
	assert.Zero(t, c.Scheduler.Interval(c.Scheduler.RepositoryHealthInterval))
	assert.Equal(t, 8, c.GetWorkerPoolConfig().MaxWorkers)
	assert.Equal(t, time.Minute, c.GetWriteQueueConfig().WriteTimeout)
}

func TestParseConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad duration", "scheduler:\n  backup-interval: soon\n", "BackupInterval"},
		{"unknown database", "database:\n  type: oracle\n", "Database.Type"},
		{"mysql needs host", "database:\n  type: mysql\n  name: backups\n", "Database.Host"},
		{"bad log level", "log:\n  level: loud\n", "Log.Level"},
		{"email without recipients", "notify:\n  email:\n    enabled: true\n    host: smtp.example.com\n    from: a@example.com\n", "notify.email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidationMessagesFollowLang(t *testing.T) {
	_, err := ParseConfig([]byte("scheduler:\n  backup-interval: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a duration")

	_, err = ParseConfig([]byte("server:\n  lang: zh_cn\nscheduler:\n  backup-interval: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "必须是时长")
}

func TestLoadAndSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  binary: /usr/local/bin/restic\n"), 0o644))

	c, realpath, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, realpath)
	assert.Equal(t, "/usr/local/bin/restic", c.Engine.Binary)

	c.Engine.Binary = "/opt/restic"
	require.NoError(t, c.Save())
	again, _, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/restic", again.Engine.Binary)

	_, _, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedDefaultConfigParses(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)

	c, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, ":9001", c.Server.PrivateHttpListen)
	assert.False(t, c.Notify.Email.Enabled)
	assert.Equal(t, 2*time.Second, c.Notify.Email.RetryInterval)
}
