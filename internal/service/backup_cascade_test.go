package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/engine"
	"github.com/haierkeys/fast-backup-service/internal/event"
	"github.com/haierkeys/fast-backup-service/pkg/code"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunForgetWithoutPolicyTakesNoLock(t *testing.T) {
	f := newFixture(withoutRetention)

	_, err := f.svc.RunForget(context.Background(), 1, 0)
	assert.True(t, code.IsInvalidState(err))
	assert.True(t, errors.Is(err, code.ErrorNoRetentionPolicy))
	assert.Zero(t, f.locks.calls.Load())
	assert.Empty(t, f.engine.Calls())
}

func TestRunForgetPrimaryRepository(t *testing.T) {
	f := newFixture()
	f.cache.Set("retention:rprimary:sched001", &engine.ForgetResult{})
	f.cache.Set("snapshots:rprimary:", []engine.Snapshot{})

	res, err := f.svc.RunForget(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, []string{"forget rprimary tag=sched001"}, f.engine.Calls())
	assert.Zero(t, f.cache.Len())

	completed := f.events.ofType(event.TypeRetentionCompleted)
	require.Len(t, completed, 1)
	rc := completed[0].(event.RetentionCompleted)
	assert.True(t, rc.Succeeded())
	assert.Equal(t, int64(10), rc.RepositoryID)
}

func TestRunForgetRepositoryOverride(t *testing.T) {
	f := newFixture()
	res, err := f.svc.RunForget(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, []string{"forget rmirror tag=sched001"}, f.engine.Calls())

	_, err = f.svc.RunForget(context.Background(), 1, 99)
	assert.True(t, code.IsNotFound(err))
}

func TestRunForgetEngineErrorIsReported(t *testing.T) {
	f := newFixture()
	f.engine.forget = func(context.Context, *domain.Repository, engine.ForgetOptions) (*engine.ForgetResult, error) {
		return nil, &code.EngineError{Command: "restic forget", ExitCode: 1}
	}
	f.cache.Set("snapshots:rprimary:", []engine.Snapshot{})

	_, err := f.svc.RunForget(context.Background(), 1, 0)
	assert.True(t, code.IsEngine(err))
	_, cached := f.cache.Get("snapshots:rprimary:")
	assert.True(t, cached, "failed forget leaves the cache alone")

	completed := f.events.ofType(event.TypeRetentionCompleted)
	require.Len(t, completed, 1)
	assert.False(t, completed[0].(event.RetentionCompleted).Succeeded())
}

func TestRunForgetWaitsForRunningBackup(t *testing.T) {
	f := newFixture()
	hold, err := f.locks.AcquireShared(context.Background(), "rprimary", "backup:other")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunForget(context.Background(), 1, 0)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.locks.Stats("rprimary").Queued == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, f.engine.Calls())

	hold()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("forget not granted after the backup released")
	}
}

func TestCopyToMirrorsSkipsDisabledMirror(t *testing.T) {
	f := newFixture()
	f.mirrors.mirrors[0].Enabled = false

	err := f.svc.CopyToMirrors(context.Background(), 1, f.primary, nil)
	require.NoError(t, err)
	assert.Empty(t, f.engine.Calls())
	assert.Empty(t, f.mirrors.updatesFor(100))
}

func TestCopyToMirrorsFailureKeepsScheduleSuccess(t *testing.T) {
	f := newFixture()
	f.engine.copyErr = map[string]error{"rmirror": errors.New("connection refused")}

	res, err := f.svc.ExecuteBackup(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, domain.BackupStatusSuccess, res.Status)
	assert.Equal(t, domain.BackupStatusSuccess, f.schedules.schedule(1).LastBackupStatus)

	updates := f.mirrors.updatesFor(100)
	require.Len(t, updates, 1)
	assert.Equal(t, domain.MirrorStatusError, updates[0].LastCopyStatus)
	assert.Equal(t, "connection refused", updates[0].LastCopyError)
	assert.NotContains(t, f.engine.Calls(), "forget rmirror tag=sched001")

	completed := f.events.ofType(event.TypeMirrorCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, domain.MirrorStatusError, completed[0].(event.MirrorCompleted).Status)
}

func TestCopyToMirrorsContinuesAfterFailure(t *testing.T) {
	f := newFixture()
	third := &domain.Repository{ID: 30, ShortID: "rthird", Name: "cold", Config: domain.RepositoryConfig{"repository": "/srv/cold"}}
	f.mirrors.mirrors = append(f.mirrors.mirrors, &domain.Mirror{ID: 101, ScheduleID: 1, RepositoryID: third.ID, Enabled: true, Repository: third})
	f.engine.copyErr = map[string]error{"rmirror": errors.New("timeout")}

	err := f.svc.CopyToMirrors(context.Background(), 1, f.primary, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")

	assert.Equal(t, []string{
		"copy rprimary->rmirror tag=sched001",
		"copy rprimary->rthird tag=sched001",
	}, f.engine.Calls())
	require.Len(t, f.mirrors.updatesFor(101), 1)
	assert.Equal(t, domain.MirrorStatusSuccess, f.mirrors.updatesFor(101)[0].LastCopyStatus)
}

func TestCopyToMirrorsIgnoresPrimaryAsMirror(t *testing.T) {
	f := newFixture()
	f.mirrors.mirrors[0].RepositoryID = f.primary.ID
	f.mirrors.mirrors[0].Repository = f.primary

	require.NoError(t, f.svc.CopyToMirrors(context.Background(), 1, f.primary, nil))
	assert.Empty(t, f.engine.Calls())
}

func TestCopyToMirrorsMissingRepository(t *testing.T) {
	f := newFixture()
	f.mirrors.mirrors[0].Repository = nil

	err := f.svc.CopyToMirrors(context.Background(), 1, f.primary, nil)
	assert.True(t, code.IsNotFound(err))
	updates := f.mirrors.updatesFor(100)
	require.Len(t, updates, 1)
	assert.Equal(t, domain.MirrorStatusError, updates[0].LastCopyStatus)

	assert.True(t, code.IsNotFound(f.svc.CopyToMirrors(context.Background(), 1, nil, nil)))
}

func TestCopyLocksBothRepositoriesInKeyOrder(t *testing.T) {
	f := newFixture()
	hold, err := f.locks.AcquireExclusive(context.Background(), "rprimary", "forget:other")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.svc.CopyToMirrors(context.Background(), 1, f.primary, nil) }()

	require.Eventually(t, func() bool { return f.locks.Stats("rprimary").Queued == 1 }, time.Second, time.Millisecond)
	// "rmirror" sorts first and is already held shared
	assert.Equal(t, 1, f.locks.Stats("rmirror").Shared)
	assert.Empty(t, f.engine.Calls())

	hold()
	require.NoError(t, <-done)
	assert.Equal(t, 0, f.locks.KeyCount())
}
