package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVolumes struct {
	domain.VolumeRepository
	mu      sync.Mutex
	volumes []*domain.Volume
	updates map[int64]domain.VolumeStatusUpdate
}

func (f *fakeVolumes) List(context.Context) ([]*domain.Volume, error) {
	return f.volumes, nil
}

func (f *fakeVolumes) UpdateStatus(_ context.Context, id int64, u domain.VolumeStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = make(map[int64]domain.VolumeStatusUpdate)
	}
	f.updates[id] = u
	return nil
}

type fakeMounter struct {
	err     error
	mounted []int64
}

func (m *fakeMounter) Mount(_ context.Context, v *domain.Volume) error {
	if m.err != nil {
		return m.err
	}
	m.mounted = append(m.mounted, v.ID)
	return nil
}

func (m *fakeMounter) Unmount(context.Context, *domain.Volume) error { return nil }

func okUsage(context.Context, string) (*disk.UsageStat, error) {
	return &disk.UsageStat{UsedPercent: 42}, nil
}

func TestVolumeHealthCheck(t *testing.T) {
	dir := t.TempDir()
	vols := &fakeVolumes{volumes: []*domain.Volume{
		{ID: 1, Name: "ok", MountPath: dir, Status: domain.VolumeStatusMounted},
		{ID: 2, Name: "gone", MountPath: filepath.Join(dir, "missing"), Status: domain.VolumeStatusMounted},
		{ID: 3, Name: "off", MountPath: dir, Status: domain.VolumeStatusUnmounted},
	}}
	svc := NewVolumeService(vols, nil, nil).(*volumeService)
	svc.usage = okUsage

	h, err := svc.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VolumeHealth{Checked: 2, Unhealthy: 1}, h)

	assert.Equal(t, domain.VolumeStatusMounted, vols.updates[1].Status)
	assert.Equal(t, domain.VolumeStatusError, vols.updates[2].Status)
	assert.Contains(t, vols.updates[2].LastError, "not a directory")
	_, touched := vols.updates[3]
	assert.False(t, touched)
}

func TestVolumeHealthCheckUsageError(t *testing.T) {
	vols := &fakeVolumes{volumes: []*domain.Volume{
		{ID: 1, MountPath: t.TempDir(), Status: domain.VolumeStatusMounted},
	}}
	svc := NewVolumeService(vols, nil, nil).(*volumeService)
	svc.usage = func(context.Context, string) (*disk.UsageStat, error) {
		return nil, errors.New("stale file handle")
	}

	h, err := svc.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.Unhealthy)
	assert.Equal(t, "stale file handle", vols.updates[1].LastError)
}

func TestVolumeAutoRemount(t *testing.T) {
	nfs := &fakeMounter{}
	broken := &fakeMounter{err: errors.New("mount.nfs: access denied")}
	vols := &fakeVolumes{volumes: []*domain.Volume{
		{ID: 1, Backend: "nfs", Status: domain.VolumeStatusError, AutoRemount: true},
		{ID: 2, Backend: "smb", Status: domain.VolumeStatusError, AutoRemount: true},
		{ID: 3, Backend: "webdav", Status: domain.VolumeStatusError, AutoRemount: true},
		{ID: 4, Backend: "nfs", Status: domain.VolumeStatusError, AutoRemount: false},
		{ID: 5, Backend: "nfs", Status: domain.VolumeStatusMounted, AutoRemount: true},
	}}
	svc := NewVolumeService(vols, map[string]domain.Mounter{"nfs": nfs, "smb": broken}, nil)

	n, err := svc.AutoRemount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, nfs.mounted)

	assert.Equal(t, domain.VolumeStatusMounted, vols.updates[1].Status)
	assert.Equal(t, "mount.nfs: access denied", vols.updates[2].LastError)
	assert.Contains(t, vols.updates[3].LastError, "webdav")
	assert.Len(t, vols.updates, 3)
}

func TestDirectoryMounter(t *testing.T) {
	dir := t.TempDir()
	m := DirectoryMounter{}

	require.NoError(t, m.Mount(context.Background(), &domain.Volume{MountPath: dir}))
	assert.Error(t, m.Mount(context.Background(), &domain.Volume{MountPath: filepath.Join(dir, "nope")}))

	created := filepath.Join(dir, "new", "vol")
	require.NoError(t, m.Mount(context.Background(), &domain.Volume{Source: created, MountPath: created}))
	assert.DirExists(t, created)
}
