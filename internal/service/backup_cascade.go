package service

import (
	"context"
	"fmt"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/engine"
	"github.com/haierkeys/fast-backup-service/internal/event"
	"github.com/haierkeys/fast-backup-service/pkg/code"
	"github.com/haierkeys/fast-backup-service/pkg/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RunForget 按保留策略清理快照
func (s *backupService) RunForget(ctx context.Context, scheduleID int64, repositoryOverride int64) (*engine.ForgetResult, error) {
	detail, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if detail == nil || detail.Schedule == nil {
		return nil, code.ErrorScheduleNotFound.WithDetails(fmt.Sprintf("id=%d", scheduleID))
	}
	sched := detail.Schedule
	if !sched.HasRetention() {
		return nil, code.ErrorNoRetentionPolicy.WithDetails(sched.Name)
	}

	target := detail.Repository
	if repositoryOverride > 0 && (target == nil || target.ID != repositoryOverride) {
		if target, err = s.repositories.GetByID(ctx, repositoryOverride); err != nil {
			return nil, err
		}
	}
	if target == nil {
		id := sched.RepositoryID
		if repositoryOverride > 0 {
			id = repositoryOverride
		}
		return nil, code.ErrorRepositoryNotFound.WithDetails(fmt.Sprintf("id=%d", id))
	}

	return s.forget(ctx, sched, target, sched.RetentionPolicy)
}

// forget prunes target under an exclusive lock
func (s *backupService) forget(ctx context.Context, sched *domain.BackupSchedule, target *domain.Repository, policy *domain.RetentionPolicy) (*engine.ForgetResult, error) {
	log := s.logger.With(
		zap.Int64(logger.FieldScheduleID, sched.ID),
		zap.Int64(logger.FieldRepositoryID, target.ID),
		zap.String(logger.FieldTag, sched.ShortID))

	start := s.now()
	release, err := s.locks.AcquireExclusive(ctx, target.LockKey(), "forget:"+sched.ShortID)
	if err != nil {
		return nil, lockError(err, target)
	}
	defer release()

	ev := event.RetentionCompleted{
		ScheduleID:     sched.ID,
		RepositoryID:   target.ID,
		RepositoryName: target.Name,
	}
	res, err := s.engine.Forget(ctx, target, policy, engine.ForgetOptions{Tag: sched.ShortID, Prune: s.cfg.PruneOnForget})
	ev.Duration = s.now().Sub(start)
	if err != nil {
		ev.Error = err.Error()
		s.events.Emit(context.WithoutCancel(ctx), ev)
		log.Warn("Retention failed", zap.Error(err))
		return nil, err
	}

	s.invalidateRepository(target, "snapshots", "retention")
	ev.Kept, ev.Removed = res.Kept, res.Removed
	s.events.Emit(ctx, ev)
	log.Info("Retention applied", zap.Int("kept", res.Kept), zap.Int("removed", res.Removed))
	return res, nil
}

// CopyToMirrors copies to each enabled mirror in turn; one mirror's failure
// does not stop the others. The returned error joins every mirror failure.
// CopyToMirrors 依次复制到每个已启用的镜像
func (s *backupService) CopyToMirrors(ctx context.Context, scheduleID int64, source *domain.Repository, policy *domain.RetentionPolicy) error {
	if source == nil {
		return code.ErrorRepositoryNotFound
	}
	detail, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return err
	}
	if detail == nil || detail.Schedule == nil {
		return code.ErrorScheduleNotFound.WithDetails(fmt.Sprintf("id=%d", scheduleID))
	}
	sched := detail.Schedule

	mirrors, err := s.mirrors.FindEnabledByScheduleID(ctx, scheduleID)
	if err != nil {
		return err
	}

	var errs error
	for _, m := range mirrors {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, s.copyToMirror(ctx, sched, source, m, policy))
	}
	return errs
}

func (s *backupService) copyToMirror(ctx context.Context, sched *domain.BackupSchedule, source *domain.Repository, m *domain.Mirror, policy *domain.RetentionPolicy) error {
	log := s.logger.With(
		zap.Int64(logger.FieldScheduleID, sched.ID),
		zap.Int64(logger.FieldMirrorID, m.ID),
		zap.Int64(logger.FieldRepositoryID, m.RepositoryID))

	if m.RepositoryID == source.ID {
		log.Warn("Mirror points at the primary repository, skipping")
		return nil
	}

	dst := m.Repository
	started := event.MirrorStarted{ScheduleID: sched.ID, MirrorID: m.ID, RepositoryID: m.RepositoryID}
	completed := event.MirrorCompleted{ScheduleID: sched.ID, MirrorID: m.ID, RepositoryID: m.RepositoryID}
	if dst != nil {
		started.RepositoryName, completed.RepositoryName = dst.Name, dst.Name
	}
	s.events.Emit(ctx, started)

	start := s.now()
	var err error
	if dst == nil {
		err = code.ErrorRepositoryNotFound.WithDetails(fmt.Sprintf("id=%d", m.RepositoryID))
	} else {
		err = s.copy(ctx, sched, source, dst)
	}
	completed.Duration = s.now().Sub(start)
	at := s.now().UTC()

	if err != nil {
		msg := code.StoredMessage(err)
		s.writeMirrorStatus(ctx, m.ID, domain.MirrorStatusUpdate{
			LastCopyStatus: domain.MirrorStatusError,
			LastCopyError:  msg,
			LastCopyAt:     at,
		})
		completed.Status, completed.Error = domain.MirrorStatusError, msg
		s.events.Emit(context.WithoutCancel(ctx), completed)
		log.Warn("Mirror copy failed", zap.Error(err))
		return err
	}

	s.invalidateRepository(dst, "snapshots")
	s.writeMirrorStatus(ctx, m.ID, domain.MirrorStatusUpdate{
		LastCopyStatus: domain.MirrorStatusSuccess,
		LastCopyAt:     at,
	})
	completed.Status = domain.MirrorStatusSuccess
	s.events.Emit(ctx, completed)
	log.Info("Mirror copy finished", zap.Duration(logger.FieldDuration, completed.Duration))

	if !policy.IsEmpty() {
		if _, err := s.forget(ctx, sched, dst, policy); err != nil {
			log.Warn("Mirror retention failed", zap.Error(err))
		}
	}
	return nil
}

// copy holds shared locks on both repositories, taken in ascending key order
func (s *backupService) copy(ctx context.Context, sched *domain.BackupSchedule, src, dst *domain.Repository) error {
	release, err := s.locks.AcquireSharedMany(ctx, []string{src.LockKey(), dst.LockKey()}, "copy:"+sched.ShortID)
	if err != nil {
		return lockError(err, dst)
	}
	defer release()
	return s.engine.Copy(ctx, src, dst, engine.CopyOptions{Tag: sched.ShortID})
}
