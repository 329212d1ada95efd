package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/engine"
	"github.com/haierkeys/fast-backup-service/internal/event"
	"github.com/haierkeys/fast-backup-service/internal/notify"
	"github.com/haierkeys/fast-backup-service/pkg/cache"
	"github.com/haierkeys/fast-backup-service/pkg/keylock"
)

// --- Mocks ---

type statusWrite struct {
	id     int64
	update domain.ScheduleStatusUpdate
}

type fakeSchedules struct {
	domain.ScheduleRepository
	mu      sync.Mutex
	details map[int64]*domain.ScheduleDetail
	writes  []statusWrite
	due     []int64
}

func newFakeSchedules(details ...*domain.ScheduleDetail) *fakeSchedules {
	f := &fakeSchedules{details: make(map[int64]*domain.ScheduleDetail)}
	for _, d := range details {
		f.details[d.Schedule.ID] = d
	}
	return f
}

func (f *fakeSchedules) FindByID(_ context.Context, id int64) (*domain.ScheduleDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[id]
	if !ok {
		return nil, nil
	}
	sched := *d.Schedule
	return &domain.ScheduleDetail{Schedule: &sched, Volume: d.Volume, Repository: d.Repository}, nil
}

func (f *fakeSchedules) List(context.Context) ([]*domain.BackupSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.BackupSchedule, 0, len(f.details))
	for _, d := range f.details {
		c := *d.Schedule
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeSchedules) FindExecutableIDs(context.Context, time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.due...), nil
}

func (f *fakeSchedules) UpdateStatus(_ context.Context, id int64, u domain.ScheduleStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, statusWrite{id: id, update: u})
	d, ok := f.details[id]
	if !ok {
		return fmt.Errorf("schedule %d not found", id)
	}
	if u.LastBackupStatus != nil {
		d.Schedule.LastBackupStatus = *u.LastBackupStatus
	}
	if u.LastBackupError != nil {
		d.Schedule.LastBackupError = *u.LastBackupError
	}
	if u.LastBackupAt != nil {
		at := *u.LastBackupAt
		d.Schedule.LastBackupAt = &at
	}
	if u.NextBackupAt != nil {
		at := *u.NextBackupAt
		d.Schedule.NextBackupAt = &at
	}
	return nil
}

func (f *fakeSchedules) schedule(id int64) domain.BackupSchedule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.details[id].Schedule
}

func (f *fakeSchedules) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeSchedules) countStatus(s domain.BackupStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		if w.update.LastBackupStatus != nil && *w.update.LastBackupStatus == s {
			n++
		}
	}
	return n
}

type fakeMirrors struct {
	domain.MirrorRepository
	mu      sync.Mutex
	mirrors []*domain.Mirror
	updates map[int64][]domain.MirrorStatusUpdate
}

func (f *fakeMirrors) FindEnabledByScheduleID(_ context.Context, scheduleID int64) ([]*domain.Mirror, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Mirror
	for _, m := range f.mirrors {
		if m.ScheduleID == scheduleID && m.Enabled {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMirrors) UpdateStatus(_ context.Context, id int64, u domain.MirrorStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = make(map[int64][]domain.MirrorStatusUpdate)
	}
	f.updates[id] = append(f.updates[id], u)
	return nil
}

func (f *fakeMirrors) updatesFor(id int64) []domain.MirrorStatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MirrorStatusUpdate(nil), f.updates[id]...)
}

type fakeRepos struct {
	domain.RepoRepository
	mu     sync.Mutex
	repos  map[int64]*domain.Repository
	health map[int64]domain.RepositoryHealthUpdate
}

func newFakeRepos(repos ...*domain.Repository) *fakeRepos {
	f := &fakeRepos{repos: make(map[int64]*domain.Repository), health: make(map[int64]domain.RepositoryHealthUpdate)}
	for _, r := range repos {
		f.repos[r.ID] = r
	}
	return f
}

func (f *fakeRepos) GetByID(_ context.Context, id int64) (*domain.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repos[id], nil
}

func (f *fakeRepos) List(context.Context) ([]*domain.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Repository, 0, len(f.repos))
	for _, r := range f.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepos) UpdateHealth(_ context.Context, id int64, u domain.RepositoryHealthUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health[id] = u
	return nil
}

func (f *fakeRepos) healthOf(id int64) domain.RepositoryHealthUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health[id]
}

// fakeEngine records every call as a short string, e.g. "copy rprimary->rmirror tag=sched001"
type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	backup   func(ctx context.Context, repo *domain.Repository, opts engine.BackupOptions) (*engine.BackupResult, error)
	copyErr  map[string]error
	forget   func(ctx context.Context, repo *domain.Repository, opts engine.ForgetOptions) (*engine.ForgetResult, error)
	checkErr map[string]error
	snaps    atomic.Int32
	lastOpts engine.BackupOptions
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Backup(ctx context.Context, repo *domain.Repository, opts engine.BackupOptions) (*engine.BackupResult, error) {
	f.record(fmt.Sprintf("backup %s tag=%s", repo.ShortID, opts.Tags[0]))
	f.mu.Lock()
	f.lastOpts = opts
	fn := f.backup
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, repo, opts)
	}
	return &engine.BackupResult{ExitCode: 0, Summary: &engine.BackupSummary{SnapshotID: "snap1"}}, nil
}

func (f *fakeEngine) Forget(ctx context.Context, repo *domain.Repository, _ *domain.RetentionPolicy, opts engine.ForgetOptions) (*engine.ForgetResult, error) {
	call := fmt.Sprintf("forget %s tag=%s", repo.ShortID, opts.Tag)
	if opts.DryRun {
		call += " dry-run"
	}
	f.record(call)
	if f.forget != nil {
		return f.forget(ctx, repo, opts)
	}
	return &engine.ForgetResult{Kept: 1, Removed: 2}, nil
}

func (f *fakeEngine) Copy(_ context.Context, src, dst *domain.Repository, opts engine.CopyOptions) error {
	f.record(fmt.Sprintf("copy %s->%s tag=%s", src.ShortID, dst.ShortID, opts.Tag))
	return f.copyErr[dst.ShortID]
}

func (f *fakeEngine) Check(_ context.Context, repo *domain.Repository) (*engine.CheckResult, error) {
	f.record("check " + repo.ShortID)
	if err := f.checkErr[repo.ShortID]; err != nil {
		return nil, err
	}
	return &engine.CheckResult{Output: "no errors were found"}, nil
}

func (f *fakeEngine) Snapshots(_ context.Context, repo *domain.Repository, tag string) ([]engine.Snapshot, error) {
	f.snaps.Add(1)
	f.record(fmt.Sprintf("snapshots %s tag=%s", repo.ShortID, tag))
	return []engine.Snapshot{{ID: "0123", ShortID: "0123", Tags: []string{tag}}}, nil
}

func (f *fakeEngine) Unlock(_ context.Context, repo *domain.Repository) error {
	f.record("unlock " + repo.ShortID)
	return nil
}

// countingLocks counts every acquisition attempt on top of a real lock manager
type countingLocks struct {
	*keylock.Manager
	calls atomic.Int32
}

func newCountingLocks() *countingLocks {
	return &countingLocks{Manager: keylock.New(nil)}
}

func (c *countingLocks) AcquireShared(ctx context.Context, key, label string) (keylock.ReleaseFunc, error) {
	c.calls.Add(1)
	return c.Manager.AcquireShared(ctx, key, label)
}

func (c *countingLocks) AcquireExclusive(ctx context.Context, key, label string) (keylock.ReleaseFunc, error) {
	c.calls.Add(1)
	return c.Manager.AcquireExclusive(ctx, key, label)
}

func (c *countingLocks) AcquireSharedMany(ctx context.Context, keys []string, label string) (keylock.ReleaseFunc, error) {
	c.calls.Add(1)
	return c.Manager.AcquireSharedMany(ctx, keys, label)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingEvents) Emit(_ context.Context, e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEvents) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func (r *recordingEvents) ofType(t event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

type sentNotification struct {
	scheduleID int64
	event      notify.BackupEvent
	ctx        notify.BackupContext
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (r *recordingNotifier) SendBackupNotification(_ context.Context, id int64, ev notify.BackupEvent, c notify.BackupContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{scheduleID: id, event: ev, ctx: c})
	return r.err
}

func (r *recordingNotifier) events() []notify.BackupEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.BackupEvent, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.event)
	}
	return out
}

// inlineRunner runs follow-up work synchronously so cascades are observable right after ExecuteBackup returns
type inlineRunner struct {
	mu    sync.Mutex
	names []string
}

func (r *inlineRunner) SubmitAsync(name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	_ = fn(context.Background())
	return nil
}

// --- Fixture ---

type fixture struct {
	schedules *fakeSchedules
	mirrors   *fakeMirrors
	repos     *fakeRepos
	engine    *fakeEngine
	locks     *countingLocks
	events    *recordingEvents
	notifier  *recordingNotifier
	cache     *cache.Cache
	runner    *inlineRunner
	svc       *backupService

	primary *domain.Repository
	mirror  *domain.Repository
	volume  *domain.Volume
}

var fixedNow = time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

func newFixture(opts ...func(*domain.BackupSchedule)) *fixture {
	f := &fixture{
		primary:  &domain.Repository{ID: 10, ShortID: "rprimary", Name: "primary", Config: domain.RepositoryConfig{"repository": "/srv/primary"}},
		mirror:   &domain.Repository{ID: 20, ShortID: "rmirror", Name: "offsite", Config: domain.RepositoryConfig{"repository": "/srv/mirror"}},
		volume:   &domain.Volume{ID: 5, Name: "data", MountPath: "/mnt/data", Status: domain.VolumeStatusMounted},
		engine:   &fakeEngine{},
		locks:    newCountingLocks(),
		events:   &recordingEvents{},
		notifier: &recordingNotifier{},
		cache:    cache.New(time.Minute),
		runner:   &inlineRunner{},
	}
	sched := &domain.BackupSchedule{
		ID:              1,
		ShortID:         "sched001",
		Name:            "nightly",
		VolumeID:        f.volume.ID,
		RepositoryID:    f.primary.ID,
		CronExpression:  "0 2 * * *",
		Enabled:         true,
		IncludePatterns: []string{"/docs", "photos"},
		ExcludePatterns: []string{"*.tmp", "/mnt/data/cache"},
		RetentionPolicy: &domain.RetentionPolicy{KeepDaily: 7},
	}
	for _, o := range opts {
		o(sched)
	}
	f.schedules = newFakeSchedules(&domain.ScheduleDetail{Schedule: sched, Volume: f.volume, Repository: f.primary})
	f.mirrors = &fakeMirrors{mirrors: []*domain.Mirror{
		{ID: 100, ScheduleID: sched.ID, RepositoryID: f.mirror.ID, Enabled: true, Repository: f.mirror},
	}}
	f.repos = newFakeRepos(f.primary, f.mirror)

	f.svc = newBackupService(BackupServiceDeps{
		Schedules:    f.schedules,
		Mirrors:      f.mirrors,
		Repositories: f.repos,
		Locks:        f.locks,
		Engine:       f.engine,
		Events:       f.events,
		Notifier:     f.notifier,
		Cache:        f.cache,
		Async:        f.runner,
	}, DefaultBackupServiceConfig())
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func withoutRetention(s *domain.BackupSchedule) { s.RetentionPolicy = nil }
func disabled(s *domain.BackupSchedule)         { s.Enabled = false }
