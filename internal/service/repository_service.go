package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/engine"
	"github.com/haierkeys/fast-backup-service/pkg/code"
	"github.com/haierkeys/fast-backup-service/pkg/keylock"
	"github.com/haierkeys/fast-backup-service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckSummary 批量检查结果
type CheckSummary struct {
	Healthy int
	Failed  int
}

// RepositoryService repository health and repair
// RepositoryService 仓库健康检查与修复
type RepositoryService interface {
	// CheckAll checks every repository and persists its health
	CheckAll(ctx context.Context) (CheckSummary, error)
	// Check checks one repository and persists its health
	Check(ctx context.Context, repositoryID int64) (*engine.CheckResult, error)
	// Doctor removes stale engine locks and re-checks the repository under an exclusive lock
	Doctor(ctx context.Context, repositoryID int64) (*engine.CheckResult, error)
}

type repositoryService struct {
	repositories domain.RepoRepository
	locks        keylock.Locker
	engine       engine.Engine
	cfg          RepositoryServiceConfig
	logger       *zap.Logger

	mu      sync.Mutex
	doctors map[int64]struct{}
}

// NewRepositoryService creates RepositoryService instance
func NewRepositoryService(repositories domain.RepoRepository, locks keylock.Locker, eng engine.Engine, cfg RepositoryServiceConfig, lg *zap.Logger) RepositoryService {
	if cfg.CheckConcurrency <= 0 {
		cfg.CheckConcurrency = 2
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &repositoryService{
		repositories: repositories,
		locks:        locks,
		engine:       eng,
		cfg:          cfg,
		logger:       lg,
		doctors:      make(map[int64]struct{}),
	}
}

func (s *repositoryService) CheckAll(ctx context.Context) (CheckSummary, error) {
	repos, err := s.repositories.List(ctx)
	if err != nil {
		return CheckSummary{}, err
	}

	var healthy, failed atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.CheckConcurrency)
	for _, repo := range repos {
		g.Go(func() error {
			if _, err := s.check(ctx, repo); err != nil {
				failed.Add(1)
			} else {
				healthy.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return CheckSummary{Healthy: int(healthy.Load()), Failed: int(failed.Load())}, ctx.Err()
}

func (s *repositoryService) Check(ctx context.Context, repositoryID int64) (*engine.CheckResult, error) {
	repo, err := s.load(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, repo)
}

func (s *repositoryService) check(ctx context.Context, repo *domain.Repository) (*engine.CheckResult, error) {
	release, err := s.locks.AcquireShared(ctx, repo.LockKey(), "check")
	if err != nil {
		return nil, lockError(err, repo)
	}
	res, err := s.engine.Check(ctx, repo)
	release()
	s.record(ctx, repo, err)
	return res, err
}

func (s *repositoryService) Doctor(ctx context.Context, repositoryID int64) (*engine.CheckResult, error) {
	s.mu.Lock()
	if _, running := s.doctors[repositoryID]; running {
		s.mu.Unlock()
		return nil, code.ErrorDoctorRunning.WithDetails(fmt.Sprintf("id=%d", repositoryID))
	}
	s.doctors[repositoryID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.doctors, repositoryID)
		s.mu.Unlock()
	}()

	repo, err := s.load(ctx, repositoryID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.AcquireExclusive(ctx, repo.LockKey(), "doctor")
	if err != nil {
		return nil, lockError(err, repo)
	}
	defer release()

	s.logger.Info("Repository doctor started", zap.Int64(logger.FieldRepositoryID, repo.ID))
	if err := s.engine.Unlock(ctx, repo); err != nil {
		s.record(ctx, repo, err)
		return nil, err
	}
	res, err := s.engine.Check(ctx, repo)
	s.record(ctx, repo, err)
	return res, err
}

func (s *repositoryService) load(ctx context.Context, id int64) (*domain.Repository, error) {
	repo, err := s.repositories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, code.ErrorRepositoryNotFound.WithDetails(fmt.Sprintf("id=%d", id))
	}
	return repo, nil
}

// record persists the health outcome; a cancelled check leaves the stored status alone
func (s *repositoryService) record(ctx context.Context, repo *domain.Repository, checkErr error) {
	if ctx.Err() != nil {
		return
	}
	update := domain.RepositoryHealthUpdate{Status: domain.RepositoryStatusHealthy, LastCheckedAt: timeNowUTC()}
	if checkErr != nil {
		update.Status = domain.RepositoryStatusError
		update.LastError = code.StoredMessage(checkErr)
		s.logger.Warn("Repository check failed", zap.Int64(logger.FieldRepositoryID, repo.ID), zap.Error(checkErr))
	}
	if err := s.repositories.UpdateHealth(ctx, repo.ID, update); err != nil {
		s.logger.Error("Failed to persist repository health", zap.Int64(logger.FieldRepositoryID, repo.ID), zap.Error(err))
	}
}

var _ RepositoryService = (*repositoryService)(nil)
