package service

import (
	"context"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/pkg/code"
	"github.com/haierkeys/fast-backup-service/pkg/fileurl"
	"github.com/haierkeys/fast-backup-service/pkg/logger"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"
)

func timeNowUTC() time.Time {
	return time.Now().UTC()
}

// VolumeHealth 卷健康检查结果
type VolumeHealth struct {
	Checked   int
	Unhealthy int
}

// VolumeService volume health and remount
// VolumeService 卷健康检查与自动重新挂载
type VolumeService interface {
	// HealthCheck probes every mounted volume and marks unreachable ones as error
	HealthCheck(ctx context.Context) (VolumeHealth, error)
	// AutoRemount remounts volumes in error state that opted in
	AutoRemount(ctx context.Context) (int, error)
}

type usageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

type volumeService struct {
	volumes  domain.VolumeRepository
	mounters map[string]domain.Mounter
	usage    usageFunc
	logger   *zap.Logger
}

// NewVolumeService mounters are keyed by volume backend
func NewVolumeService(volumes domain.VolumeRepository, mounters map[string]domain.Mounter, lg *zap.Logger) VolumeService {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &volumeService{
		volumes:  volumes,
		mounters: mounters,
		usage:    disk.UsageWithContext,
		logger:   lg,
	}
}

func (s *volumeService) HealthCheck(ctx context.Context) (VolumeHealth, error) {
	vols, err := s.volumes.List(ctx)
	if err != nil {
		return VolumeHealth{}, err
	}

	var h VolumeHealth
	for _, v := range vols {
		if !v.IsMounted() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return h, err
		}
		h.Checked++
		now := timeNowUTC()
		update := domain.VolumeStatusUpdate{Status: domain.VolumeStatusMounted, LastHealthCheckAt: &now}

		stat, err := s.usage(ctx, v.MountPath)
		if err == nil && !fileurl.IsDir(v.MountPath) {
			err = code.ErrorVolumeNotMounted.WithDetails(v.MountPath + " is not a directory")
		}
		if err != nil {
			h.Unhealthy++
			update.Status = domain.VolumeStatusError
			update.LastError = err.Error()
			s.logger.Warn("Volume health check failed", zap.Int64(logger.FieldVolumeID, v.ID), zap.String("mountPath", v.MountPath), zap.Error(err))
		} else {
			s.logger.Debug("Volume healthy", zap.Int64(logger.FieldVolumeID, v.ID), zap.Float64("usedPercent", stat.UsedPercent))
		}

		if err := s.volumes.UpdateStatus(ctx, v.ID, update); err != nil {
			s.logger.Error("Failed to persist volume status", zap.Int64(logger.FieldVolumeID, v.ID), zap.Error(err))
		}
	}
	return h, nil
}

func (s *volumeService) AutoRemount(ctx context.Context) (int, error) {
	vols, err := s.volumes.List(ctx)
	if err != nil {
		return 0, err
	}

	remounted := 0
	for _, v := range vols {
		if v.Status != domain.VolumeStatusError || !v.AutoRemount {
			continue
		}
		if err := ctx.Err(); err != nil {
			return remounted, err
		}

		now := timeNowUTC()
		update := domain.VolumeStatusUpdate{Status: domain.VolumeStatusError, LastHealthCheckAt: &now}
		mounter, ok := s.mounters[v.Backend]
		if !ok {
			update.LastError = code.ErrorVolumeBackendNoMounter.WithDetails(v.Backend).Canonical()
		} else if err := mounter.Mount(ctx, v); err != nil {
			update.LastError = err.Error()
		} else {
			update.Status = domain.VolumeStatusMounted
			remounted++
		}

		if update.Status == domain.VolumeStatusMounted {
			s.logger.Info("Volume remounted", zap.Int64(logger.FieldVolumeID, v.ID), zap.String("backend", v.Backend))
		} else {
			s.logger.Warn("Volume remount failed", zap.Int64(logger.FieldVolumeID, v.ID), zap.String("backend", v.Backend), zap.String("error", update.LastError))
		}
		if err := s.volumes.UpdateStatus(ctx, v.ID, update); err != nil {
			s.logger.Error("Failed to persist volume status", zap.Int64(logger.FieldVolumeID, v.ID), zap.Error(err))
		}
	}
	return remounted, nil
}

// DirectoryMounter "mounts" a local directory: the mount path must exist.
// When Source equals the mount path the directory is created on demand.
// DirectoryMounter 本地目录卷
type DirectoryMounter struct{}

func (DirectoryMounter) Mount(_ context.Context, v *domain.Volume) error {
	path := v.MountPath
	if v.Source != "" && v.Source == v.MountPath {
		if err := fileurl.EnsureDir(path, 0o755); err != nil {
			return err
		}
	}
	if !fileurl.IsDir(path) {
		return code.ErrorVolumeNotMounted.WithDetails(path + " is not a directory")
	}
	return nil
}

func (DirectoryMounter) Unmount(context.Context, *domain.Volume) error {
	return nil
}

var (
	_ VolumeService  = (*volumeService)(nil)
	_ domain.Mounter = DirectoryMounter{}
)
