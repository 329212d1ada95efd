package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	types []Type
	got   []Event
	err   error
	panic bool
}

func (r *recorder) SupportedEvents() []Type { return r.types }

func (r *recorder) HandleEvent(_ context.Context, e Event) error {
	if r.panic {
		panic("boom")
	}
	r.got = append(r.got, e)
	return r.err
}

func TestBusRoutesByType(t *testing.T) {
	bus := NewBus(nil)
	backups := &recorder{types: []Type{TypeBackupStarted, TypeBackupCompleted}}
	mirrors := &recorder{types: []Type{TypeMirrorCompleted}}
	bus.Subscribe(backups)
	bus.Subscribe(mirrors)

	ctx := context.Background()
	bus.Emit(ctx, BackupStarted{ScheduleID: 1})
	bus.Emit(ctx, MirrorCompleted{ScheduleID: 1, Status: domain.MirrorStatusSuccess})
	bus.Emit(ctx, BackupProgress{ScheduleID: 1})
	bus.Emit(ctx, BackupCompleted{ScheduleID: 1, Status: domain.BackupStatusSuccess})

	require.Len(t, backups.got, 2)
	assert.Equal(t, TypeBackupStarted, backups.got[0].Type())
	assert.Equal(t, TypeBackupCompleted, backups.got[1].Type())
	require.Len(t, mirrors.got, 1)
}

func TestBusIsolatesFailingSubscribers(t *testing.T) {
	bus := NewBus(nil)
	bad := &recorder{types: []Type{TypeBackupStarted}, panic: true}
	erring := &recorder{types: []Type{TypeBackupStarted}, err: errors.New("down")}
	good := &recorder{types: []Type{TypeBackupStarted}}
	bus.Subscribe(bad)
	bus.Subscribe(erring)
	bus.Subscribe(good)

	assert.NotPanics(t, func() { bus.Emit(context.Background(), BackupStarted{ScheduleID: 7}) })
	assert.Len(t, erring.got, 1)
	assert.Len(t, good.got, 1)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	r := &recorder{types: AllTypes()}
	bus.Subscribe(r)
	bus.Unsubscribe(r)
	bus.Emit(context.Background(), BackupStarted{ScheduleID: 1})
	assert.Empty(t, r.got)
}

func TestStreamFiltersAndDrops(t *testing.T) {
	s := NewStream(1, 5)
	ctx := context.Background()
	require.NoError(t, s.HandleEvent(ctx, BackupStarted{ScheduleID: 4}))
	require.NoError(t, s.HandleEvent(ctx, BackupStarted{ScheduleID: 5}))
	require.NoError(t, s.HandleEvent(ctx, BackupCompleted{ScheduleID: 5}))

	select {
	case e := <-s.C():
		assert.Equal(t, int64(5), e.Schedule())
		assert.Equal(t, TypeBackupStarted, e.Type())
	default:
		t.Fatal("expected a buffered event")
	}
	assert.Equal(t, int64(1), s.Dropped())
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			matched := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					matched = true
				}
			}
			if !matched {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestMetricsSubscriber(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetricsSubscriber(reg)
	require.NoError(t, err)

	bus := NewBus(nil)
	bus.Subscribe(m)
	ctx := context.Background()

	bus.Emit(ctx, BackupStarted{ScheduleID: 1})
	bus.Emit(ctx, BackupStarted{ScheduleID: 2})
	assert.Equal(t, 2.0, gatherValue(t, reg, "fast_backup_backup_in_progress", ""))

	bus.Emit(ctx, BackupCompleted{ScheduleID: 1, Status: domain.BackupStatusSuccess, Duration: time.Second})
	// a validation failure was never started and must not drive the gauge negative
	bus.Emit(ctx, BackupCompleted{ScheduleID: 3, Status: domain.BackupStatusError})
	assert.Equal(t, 1.0, gatherValue(t, reg, "fast_backup_backup_in_progress", ""))
	assert.Equal(t, 1.0, gatherValue(t, reg, "fast_backup_backup_runs_total", "success"))
	assert.Equal(t, 1.0, gatherValue(t, reg, "fast_backup_backup_runs_total", "error"))

	bus.Emit(ctx, MirrorCompleted{ScheduleID: 1, Status: domain.MirrorStatusError, Error: "copy failed"})
	assert.Equal(t, 1.0, gatherValue(t, reg, "fast_backup_mirror_copies_total", "error"))

	bus.Emit(ctx, RetentionCompleted{ScheduleID: 1, Removed: 4})
	assert.Equal(t, 4.0, gatherValue(t, reg, "fast_backup_retention_snapshots_removed_total", ""))

	_, err = NewMetricsSubscriber(reg)
	assert.Error(t, err)
}
