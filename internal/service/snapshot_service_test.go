package service

import (
	"context"
	"testing"

	"github.com/haierkeys/fast-backup-service/pkg/code"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSnapshotsIsCachedUntilBackup(t *testing.T) {
	f := newFixture()
	snaps := NewSnapshotService(f.schedules, f.repos, f.locks, f.engine, f.cache, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		list, err := snaps.ListSnapshots(ctx, 10, "sched001")
		require.NoError(t, err)
		require.Len(t, list, 1)
	}
	assert.Equal(t, int32(1), f.engine.snaps.Load())

	_, err := f.svc.ExecuteBackup(ctx, 1, false)
	require.NoError(t, err)

	_, err = snaps.ListSnapshots(ctx, 10, "sched001")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.engine.snaps.Load())
}

func TestListSnapshotsUnknownRepository(t *testing.T) {
	f := newFixture()
	snaps := NewSnapshotService(f.schedules, f.repos, f.locks, f.engine, f.cache, nil)
	_, err := snaps.ListSnapshots(context.Background(), 99, "")
	assert.True(t, code.IsNotFound(err))
}

func TestRetentionPreviewIsDryRun(t *testing.T) {
	f := newFixture()
	snaps := NewSnapshotService(f.schedules, f.repos, f.locks, f.engine, f.cache, nil)
	ctx := context.Background()

	res, err := snaps.RetentionPreview(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
	_, err = snaps.RetentionPreview(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"forget rprimary tag=sched001 dry-run"}, f.engine.Calls())

	// an applied forget drops the preview
	_, err = f.svc.RunForget(ctx, 1, 0)
	require.NoError(t, err)
	_, err = snaps.RetentionPreview(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, f.engine.Calls(), 3)
}

func TestRetentionPreviewWithoutPolicy(t *testing.T) {
	f := newFixture(withoutRetention)
	snaps := NewSnapshotService(f.schedules, f.repos, f.locks, f.engine, f.cache, nil)
	_, err := snaps.RetentionPreview(context.Background(), 1)
	assert.True(t, code.IsInvalidState(err))
	assert.Empty(t, f.engine.Calls())
}
