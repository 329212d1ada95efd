package service

import (
	"context"
	"fmt"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/engine"
	"github.com/haierkeys/fast-backup-service/pkg/code"
	"github.com/haierkeys/fast-backup-service/pkg/keylock"

	"go.uber.org/zap"
)

// SnapshotCache cache surface used for snapshot listings
type SnapshotCache interface {
	GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (any, error)) (any, error)
	InvalidateByPrefix(prefix string) int
}

// SnapshotService lists snapshots and previews retention through the cache
// SnapshotService 快照列表与保留预览
type SnapshotService interface {
	// ListSnapshots lists snapshots of a repository, filtered by tag when not empty
	ListSnapshots(ctx context.Context, repositoryID int64, tag string) ([]engine.Snapshot, error)
	// RetentionPreview reports what the schedule's retention policy would keep and remove
	RetentionPreview(ctx context.Context, scheduleID int64) (*engine.ForgetResult, error)
}

type snapshotService struct {
	schedules    domain.ScheduleRepository
	repositories domain.RepoRepository
	locks        keylock.Locker
	engine       engine.Engine
	cache        SnapshotCache
	logger       *zap.Logger
}

// NewSnapshotService creates SnapshotService instance
func NewSnapshotService(schedules domain.ScheduleRepository, repositories domain.RepoRepository, locks keylock.Locker, eng engine.Engine, c SnapshotCache, lg *zap.Logger) SnapshotService {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &snapshotService{
		schedules:    schedules,
		repositories: repositories,
		locks:        locks,
		engine:       eng,
		cache:        c,
		logger:       lg,
	}
}

func (s *snapshotService) ListSnapshots(ctx context.Context, repositoryID int64, tag string) ([]engine.Snapshot, error) {
	repo, err := s.repositories.GetByID(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, code.ErrorRepositoryNotFound.WithDetails(fmt.Sprintf("id=%d", repositoryID))
	}

	v, err := s.cache.GetOrLoad(ctx, CacheKeyPrefix("snapshots", repo)+tag, func(ctx context.Context) (any, error) {
		release, err := s.locks.AcquireShared(ctx, repo.LockKey(), "snapshots")
		if err != nil {
			return nil, lockError(err, repo)
		}
		defer release()
		return s.engine.Snapshots(ctx, repo, tag)
	})
	if err != nil {
		return nil, err
	}
	return v.([]engine.Snapshot), nil
}

func (s *snapshotService) RetentionPreview(ctx context.Context, scheduleID int64) (*engine.ForgetResult, error) {
	detail, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if detail == nil || detail.Schedule == nil {
		return nil, code.ErrorScheduleNotFound.WithDetails(fmt.Sprintf("id=%d", scheduleID))
	}
	sched, repo := detail.Schedule, detail.Repository
	if !sched.HasRetention() {
		return nil, code.ErrorNoRetentionPolicy.WithDetails(sched.Name)
	}
	if repo == nil {
		return nil, code.ErrorRepositoryNotFound.WithDetails(fmt.Sprintf("id=%d", sched.RepositoryID))
	}

	v, err := s.cache.GetOrLoad(ctx, CacheKeyPrefix("retention", repo)+sched.ShortID, func(ctx context.Context) (any, error) {
		release, err := s.locks.AcquireShared(ctx, repo.LockKey(), "retention-preview:"+sched.ShortID)
		if err != nil {
			return nil, lockError(err, repo)
		}
		defer release()
		return s.engine.Forget(ctx, repo, sched.RetentionPolicy, engine.ForgetOptions{Tag: sched.ShortID, DryRun: true})
	})
	if err != nil {
		return nil, err
	}
	return v.(*engine.ForgetResult), nil
}
