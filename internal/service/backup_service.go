package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/engine"
	"github.com/haierkeys/fast-backup-service/internal/event"
	"github.com/haierkeys/fast-backup-service/internal/notify"
	"github.com/haierkeys/fast-backup-service/pkg/cache"
	"github.com/haierkeys/fast-backup-service/pkg/code"
	"github.com/haierkeys/fast-backup-service/pkg/keylock"
	"github.com/haierkeys/fast-backup-service/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BackupService defines the backup execution interface
// 定义备份执行服务接口
type BackupService interface {
	// ExecuteBackup validates and runs one backup of scheduleID.
	// A nil error with RunResult.Skipped set means the run was not started.
	ExecuteBackup(ctx context.Context, scheduleID int64, manual bool) (*RunResult, error)
	// StopBackup cancels the running backup of scheduleID and records it as a warning
	StopBackup(ctx context.Context, scheduleID int64) error
	// GetSchedulesToExecute returns the ids of enabled schedules that are due
	GetSchedulesToExecute(ctx context.Context) ([]int64, error)
	// DispatchDue starts every due schedule in the background and returns how many were dispatched
	DispatchDue(ctx context.Context) (int, error)
	// RunForget applies the schedule's retention policy to its repository or to repositoryOverride
	RunForget(ctx context.Context, scheduleID int64, repositoryOverride int64) (*engine.ForgetResult, error)
	// CopyToMirrors copies the schedule's snapshots from source to every enabled mirror
	CopyToMirrors(ctx context.Context, scheduleID int64, source *domain.Repository, policy *domain.RetentionPolicy) error
	// Running returns the schedules with a live execution
	Running() []int64
	// FailInterrupted marks runs left in_progress by a previous process as error
	FailInterrupted(ctx context.Context) (int, error)
	Shutdown(ctx context.Context) error
}

// AsyncRunner runs best-effort follow-up work off the caller's goroutine
// AsyncRunner 异步执行后续任务（保留清理、镜像复制、通知）
type AsyncRunner interface {
	SubmitAsync(name string, fn func(ctx context.Context) error) error
}

// BackupServiceDeps collaborators of the backup service
type BackupServiceDeps struct {
	Schedules    domain.ScheduleRepository
	Mirrors      domain.MirrorRepository
	Repositories domain.RepoRepository
	Locks        keylock.Locker
	Engine       engine.Engine
	Events       event.Emitter
	Notifier     notify.Notifier
	Cache        cache.Invalidator
	Async        AsyncRunner
	Registry     *Registry
	Logger       *zap.Logger
}

// RunResult 单次执行结果
type RunResult struct {
	ScheduleID int64
	Status     domain.BackupStatus // empty when skipped
	Skipped    bool
	SkipReason string
	Error      string
	Summary    *engine.BackupSummary
	Duration   time.Duration
}

type backupService struct {
	schedules    domain.ScheduleRepository
	mirrors      domain.MirrorRepository
	repositories domain.RepoRepository
	locks        keylock.Locker
	engine       engine.Engine
	events       event.Emitter
	notifier     notify.Notifier
	cache        cache.Invalidator
	async        AsyncRunner
	registry     *Registry
	cfg          BackupServiceConfig
	logger       *zap.Logger
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewBackupService creates BackupService instance
// 创建 BackupService 实例
func NewBackupService(deps BackupServiceDeps, cfg BackupServiceConfig) BackupService {
	return newBackupService(deps, cfg)
}

func newBackupService(deps BackupServiceDeps, cfg BackupServiceConfig) *backupService {
	if cfg.StatusWriteTimeout <= 0 {
		cfg.StatusWriteTimeout = DefaultBackupServiceConfig().StatusWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &backupService{
		schedules:    deps.Schedules,
		mirrors:      deps.Mirrors,
		repositories: deps.Repositories,
		locks:        deps.Locks,
		engine:       deps.Engine,
		events:       deps.Events,
		notifier:     deps.Notifier,
		cache:        deps.Cache,
		async:        deps.Async,
		registry:     deps.Registry,
		cfg:          cfg,
		logger:       deps.Logger,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	if s.events == nil {
		s.events = event.Nop{}
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.async == nil {
		s.async = &goroutineRunner{s: s}
	}
	return s
}

// track registers in-flight work; false once Shutdown has begun
func (s *backupService) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func skipped(scheduleID int64, reason string) *RunResult {
	return &RunResult{ScheduleID: scheduleID, Skipped: true, SkipReason: reason}
}

// ExecuteBackup 执行一次备份
func (s *backupService) ExecuteBackup(ctx context.Context, scheduleID int64, manual bool) (*RunResult, error) {
	if !s.track() {
		return nil, code.ErrorBackupShutdown
	}
	defer s.wg.Done()

	log := s.logger.With(zap.Int64(logger.FieldScheduleID, scheduleID), zap.Bool(logger.FieldManual, manual))

	detail, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return nil, errors.Wrap(err, "load schedule")
	}
	if detail == nil || detail.Schedule == nil {
		return nil, code.ErrorScheduleNotFound.WithDetails(fmt.Sprintf("id=%d", scheduleID))
	}
	sched := detail.Schedule

	if !sched.Enabled && !manual {
		log.Debug("Skipping disabled schedule")
		return skipped(scheduleID, "schedule is disabled"), nil
	}
	if s.registry.IsRunning(scheduleID) || sched.LastBackupStatus == domain.BackupStatusInProgress {
		log.Info("Backup already in progress, skipping this trigger")
		return skipped(scheduleID, "backup already in progress"), nil
	}

	if err := validateDetail(detail); err != nil {
		return s.failValidation(ctx, detail, manual, err), err
	}
	next, err := NextBackupAt(sched.CronExpression, s.now())
	if err != nil {
		return s.failValidation(ctx, detail, manual, err), err
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopOnShutdown := context.AfterFunc(s.ctx, cancel)
	exec, ok := s.registry.TryRegister(scheduleID, cancel)
	if !ok {
		stopOnShutdown()
		cancel()
		log.Info("Backup already in progress, skipping this trigger")
		return skipped(scheduleID, "backup already in progress"), nil
	}
	defer func() {
		s.registry.Remove(scheduleID, exec)
		stopOnShutdown()
		cancel()
	}()

	return s.run(runCtx, detail, exec, manual, next)
}

func validateDetail(d *domain.ScheduleDetail) error {
	if d.Volume == nil {
		return code.ErrorVolumeNotFound.WithDetails(fmt.Sprintf("id=%d", d.Schedule.VolumeID))
	}
	if d.Repository == nil {
		return code.ErrorRepositoryNotFound.WithDetails(fmt.Sprintf("id=%d", d.Schedule.RepositoryID))
	}
	if !d.Volume.IsMounted() {
		return code.ErrorVolumeNotMounted.WithDetails(d.Volume.Name)
	}
	return nil
}

func notifyContext(d *domain.ScheduleDetail, manual bool) notify.BackupContext {
	c := notify.BackupContext{Manual: manual}
	if d.Schedule != nil {
		c.ScheduleName = d.Schedule.Name
	}
	if d.Volume != nil {
		c.VolumeName = d.Volume.Name
	}
	if d.Repository != nil {
		c.RepositoryName = d.Repository.Name
	}
	return c
}

// failValidation records a run that never started
func (s *backupService) failValidation(ctx context.Context, d *domain.ScheduleDetail, manual bool, cause error) *RunResult {
	id := d.Schedule.ID
	msg := code.StoredMessage(cause)
	now := s.now().UTC()
	status := domain.BackupStatusError

	s.logger.Warn("Backup validation failed",
		zap.Int64(logger.FieldScheduleID, id),
		zap.Bool(logger.FieldManual, manual),
		zap.Error(cause))

	_ = s.writeStatus(ctx, id, domain.ScheduleStatusUpdate{
		LastBackupStatus: &status,
		LastBackupError:  &msg,
		LastBackupAt:     &now,
	})

	nc := notifyContext(d, manual)
	nc.Error = msg
	s.emitCompleted(ctx, d, status, msg, nil, 0)
	s.notify(id, notify.EventFailure, nc)

	return &RunResult{ScheduleID: id, Status: status, Error: msg}
}

// run drives a validated schedule through Running to a terminal state
func (s *backupService) run(ctx context.Context, d *domain.ScheduleDetail, exec *Execution, manual bool, next time.Time) (*RunResult, error) {
	sched, vol, repo := d.Schedule, d.Volume, d.Repository
	log := s.logger.With(
		zap.Int64(logger.FieldScheduleID, sched.ID),
		zap.Int64(logger.FieldRepositoryID, repo.ID),
		zap.String(logger.FieldTag, sched.ShortID))

	inProgress := domain.BackupStatusInProgress
	cleared := ""
	nextUTC := next.UTC()
	if err := s.writeStatus(ctx, sched.ID, domain.ScheduleStatusUpdate{
		LastBackupStatus: &inProgress,
		LastBackupError:  &cleared,
		NextBackupAt:     &nextUTC,
	}); err != nil {
		return nil, err
	}

	start := s.now()
	nc := notifyContext(d, manual)
	s.events.Emit(ctx, event.BackupStarted{
		ScheduleID:     sched.ID,
		ScheduleName:   sched.Name,
		VolumeName:     vol.Name,
		RepositoryName: repo.Name,
		Manual:         manual,
		At:             start.UTC(),
	})
	s.notify(sched.ID, notify.EventStart, nc)
	log.Info("Backup started", zap.Bool(logger.FieldManual, manual), zap.Time("nextBackupAt", nextUTC))

	res, engineErr := s.invokeEngine(ctx, sched, vol, repo)
	duration := s.now().Sub(start)

	// stops arriving from here on are rejected, so the status decided below is final
	stopped := s.registry.Seal(exec)
	status, runErr := s.interpret(ctx, stopped, res, engineErr)
	result := &RunResult{ScheduleID: sched.ID, Status: status, Duration: duration}
	if res != nil {
		result.Summary = res.Summary
	}

	finishedAt := s.now().UTC()
	update := domain.ScheduleStatusUpdate{LastBackupStatus: &status, LastBackupAt: &finishedAt}
	nc.Duration = duration
	nc.Summary = result.Summary

	if runErr != nil {
		msg := code.StoredMessage(runErr)
		result.Error = runErr.Error()
		update.LastBackupError = &msg
		nc.Error = msg
		log.Warn("Backup finished with failure", zap.String(logger.FieldStatus, string(status)), zap.Error(runErr))

		_ = s.writeStatus(ctx, sched.ID, update)
		s.emitCompleted(ctx, d, status, msg, result.Summary, duration)
		s.notify(sched.ID, notify.EventForStatus(status), nc)
		return result, runErr
	}

	s.invalidateRepository(repo, "snapshots")
	update.LastBackupError = &cleared
	_ = s.writeStatus(ctx, sched.ID, update)
	s.emitCompleted(ctx, d, status, "", result.Summary, duration)
	s.notify(sched.ID, notify.EventForStatus(status), nc)
	log.Info("Backup finished", zap.String(logger.FieldStatus, string(status)), zap.Duration(logger.FieldDuration, duration))

	if sched.HasRetention() {
		s.submit("forget:"+sched.ShortID, func(ctx context.Context) error {
			_, err := s.RunForget(ctx, sched.ID, 0)
			return err
		})
	}
	s.submit("mirror:"+sched.ShortID, func(ctx context.Context) error {
		return s.CopyToMirrors(ctx, sched.ID, repo, sched.RetentionPolicy)
	})
	return result, nil
}

// invokeEngine holds a shared repository lock for the duration of the engine call
func (s *backupService) invokeEngine(ctx context.Context, sched *domain.BackupSchedule, vol *domain.Volume, repo *domain.Repository) (*engine.BackupResult, error) {
	release, err := s.locks.AcquireShared(ctx, repo.LockKey(), "backup:"+sched.ShortID)
	if err != nil {
		return nil, lockError(err, repo)
	}
	defer release()

	return s.engine.Backup(ctx, repo, engine.BackupOptions{
		SourcePath:    vol.MountPath,
		Include:       rerootPatterns(sched.IncludePatterns, vol.MountPath),
		Exclude:       rerootPatterns(sched.ExcludePatterns, vol.MountPath),
		OneFileSystem: sched.OneFileSystem,
		Compression:   repo.Compression,
		Tags:          []string{sched.ShortID},
		OnProgress: func(p engine.Progress) {
			s.events.Emit(ctx, event.BackupProgress{ScheduleID: sched.ID, Progress: p})
		},
	})
}

// interpret maps the engine outcome onto a terminal status.
// A user stop wins over whatever the engine reported.
func (s *backupService) interpret(ctx context.Context, stopped bool, res *engine.BackupResult, err error) (domain.BackupStatus, error) {
	switch {
	case stopped:
		return domain.BackupStatusWarning, code.ErrorBackupStopped
	case ctx.Err() != nil:
		return domain.BackupStatusWarning, code.ErrorBackupShutdown
	case err != nil:
		return domain.BackupStatusError, err
	case res == nil:
		return domain.BackupStatusError, code.ErrorServerInternal.WithDetails("engine returned no result")
	case res.ExitCode == 0:
		return domain.BackupStatusSuccess, nil
	case res.ExitCode == s.cfg.PartialSuccessExitCode:
		return domain.BackupStatusWarning, nil
	default:
		return domain.BackupStatusError, &code.EngineError{Command: "backup", ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
}

func lockError(err error, repo *domain.Repository) error {
	if errors.Is(err, keylock.ErrAborted) {
		return code.ErrorLockAborted.WithDetails(repo.Name)
	}
	return err
}

// StopBackup 停止正在运行的备份
func (s *backupService) StopBackup(ctx context.Context, scheduleID int64) error {
	switch s.registry.Stop(scheduleID) {
	case StopNotRunning:
		return code.ErrorBackupNotRunning.WithDetails(fmt.Sprintf("id=%d", scheduleID))
	case StopTooLate:
		return code.ErrorBackupFinishing.WithDetails(fmt.Sprintf("id=%d", scheduleID))
	}
	s.logger.Info("Backup stop requested", zap.Int64(logger.FieldScheduleID, scheduleID))

	status := domain.BackupStatusWarning
	msg := code.ErrorBackupStopped.Canonical()
	return s.writeStatus(ctx, scheduleID, domain.ScheduleStatusUpdate{
		LastBackupStatus: &status,
		LastBackupError:  &msg,
	})
}

// GetSchedulesToExecute 获取到期的备份计划
func (s *backupService) GetSchedulesToExecute(ctx context.Context) ([]int64, error) {
	return s.schedules.FindExecutableIDs(ctx, s.now())
}

// DispatchDue 分发到期的备份，不等待完成
func (s *backupService) DispatchDue(ctx context.Context) (int, error) {
	ids, err := s.GetSchedulesToExecute(ctx)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, id := range ids {
		if s.registry.IsRunning(id) {
			continue
		}
		if !s.track() {
			break
		}
		dispatched++
		go func(id int64) {
			defer s.wg.Done()
			// service context so that a slow run outlives the dispatching tick
			res, err := s.ExecuteBackup(s.ctx, id, false)
			if err != nil {
				s.logger.Warn("Scheduled backup failed", zap.Int64(logger.FieldScheduleID, id), zap.Error(err))
				return
			}
			if res != nil && res.Skipped {
				s.logger.Debug("Scheduled backup skipped", zap.Int64(logger.FieldScheduleID, id), zap.String("reason", res.SkipReason))
			}
		}(id)
	}
	return dispatched, nil
}

// Running 正在运行的计划
func (s *backupService) Running() []int64 {
	return s.registry.Running()
}

// FailInterrupted 将上次进程遗留的 in_progress 状态标记为失败
// Must run before the scheduler starts; runs of this process are left alone.
func (s *backupService) FailInterrupted(ctx context.Context) (int, error) {
	list, err := s.schedules.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list schedules")
	}

	n := 0
	for _, sched := range list {
		if sched.LastBackupStatus != domain.BackupStatusInProgress || s.registry.IsRunning(sched.ID) {
			continue
		}
		status := domain.BackupStatusError
		msg := code.ErrorBackupInterrupted.Canonical()
		if err := s.writeStatus(ctx, sched.ID, domain.ScheduleStatusUpdate{
			LastBackupStatus: &status,
			LastBackupError:  &msg,
		}); err != nil {
			return n, err
		}
		s.logger.Warn("Marked interrupted backup as failed", zap.Int64(logger.FieldScheduleID, sched.ID))
		n++
	}
	return n, nil
}

// Shutdown aborts in-flight runs and waits for them to record their outcome
// Shutdown 停止服务，中止运行中的备份并等待状态写入
func (s *backupService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if running := s.registry.Len(); running > 0 {
		s.logger.Info("Aborting running backups", zap.Int("count", running))
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All backup tasks finished during shutdown")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Shutdown context expired before all backup tasks finished")
		return ctx.Err()
	}
}

// detached derives a context that survives cancellation of ctx, bounded by the status write timeout
func (s *backupService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StatusWriteTimeout)
}

func (s *backupService) writeStatus(ctx context.Context, id int64, u domain.ScheduleStatusUpdate) error {
	wctx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.schedules.UpdateStatus(wctx, id, u); err != nil {
		s.logger.Error("Failed to persist schedule status", zap.Int64(logger.FieldScheduleID, id), zap.Error(err))
		return err
	}
	return nil
}

func (s *backupService) writeMirrorStatus(ctx context.Context, id int64, u domain.MirrorStatusUpdate) {
	wctx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.mirrors.UpdateStatus(wctx, id, u); err != nil {
		s.logger.Error("Failed to persist mirror status", zap.Int64(logger.FieldMirrorID, id), zap.Error(err))
	}
}

func (s *backupService) emitCompleted(ctx context.Context, d *domain.ScheduleDetail, status domain.BackupStatus, msg string, summary *engine.BackupSummary, duration time.Duration) {
	ev := event.BackupCompleted{
		ScheduleID: d.Schedule.ID,
		Status:     status,
		Error:      msg,
		Summary:    summary,
		Duration:   duration,
		At:         s.now().UTC(),
	}
	nc := notifyContext(d, false)
	ev.ScheduleName, ev.VolumeName, ev.RepositoryName = nc.ScheduleName, nc.VolumeName, nc.RepositoryName
	s.events.Emit(context.WithoutCancel(ctx), ev)
}

// notify is best-effort; delivery happens off the run goroutine
func (s *backupService) notify(scheduleID int64, ev notify.BackupEvent, c notify.BackupContext) {
	s.submit(fmt.Sprintf("notify:%d:%s", scheduleID, ev), func(ctx context.Context) error {
		return s.notifier.SendBackupNotification(ctx, scheduleID, ev, c)
	})
}

func (s *backupService) submit(name string, fn func(ctx context.Context) error) {
	if err := s.async.SubmitAsync(name, fn); err != nil {
		s.logger.Warn("Failed to submit follow-up task", zap.String(logger.FieldTask, name), zap.Error(err))
	}
}

// invalidateRepository drops cached entries of one kind ("snapshots", "retention") for repo
func (s *backupService) invalidateRepository(repo *domain.Repository, kinds ...string) {
	if s.cache == nil {
		return
	}
	for _, kind := range kinds {
		s.cache.InvalidateByPrefix(CacheKeyPrefix(kind, repo))
	}
}

// CacheKeyPrefix prefix of every cache key of kind for repo, e.g. "snapshots:ab12cd34:"
func CacheKeyPrefix(kind string, repo *domain.Repository) string {
	return kind + ":" + repo.LockKey() + ":"
}

// goroutineRunner is used when no worker pool is wired
type goroutineRunner struct {
	s *backupService
}

func (r *goroutineRunner) SubmitAsync(name string, fn func(ctx context.Context) error) error {
	if !r.s.track() {
		return code.ErrorBackupShutdown
	}
	go func() {
		defer r.s.wg.Done()
		if err := fn(r.s.ctx); err != nil {
			r.s.logger.Warn("Follow-up task failed", zap.String(logger.FieldTask, name), zap.Error(err))
		}
	}()
	return nil
}

var _ BackupService = (*backupService)(nil)
