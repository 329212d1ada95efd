package event

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fast_backup"

// MetricsSubscriber exports run outcomes as prometheus metrics
// MetricsSubscriber 将事件导出为 prometheus 指标
type MetricsSubscriber struct {
	backups    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inProgress prometheus.Gauge
	mirrors    *prometheus.CounterVec
	retention  *prometheus.CounterVec
	removed    prometheus.Counter
	lockWait   *prometheus.HistogramVec

	mu      sync.Mutex
	running map[int64]struct{}
}

// NewMetricsSubscriber registers its collectors on reg
func NewMetricsSubscriber(reg prometheus.Registerer) (*MetricsSubscriber, error) {
	m := &MetricsSubscriber{
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backup_runs_total",
			Help:      "Finished backup runs by final status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "backup_duration_seconds",
			Help:      "Backup run duration by final status.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 9),
		}, []string{"status"}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "backup_in_progress",
			Help:      "Backup runs currently executing.",
		}),
		mirrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mirror_copies_total",
			Help:      "Mirror copy attempts by status.",
		}, []string{"status"}),
		retention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retention_runs_total",
			Help:      "Retention runs by result.",
		}, []string{"result"}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retention_snapshots_removed_total",
			Help:      "Snapshots removed by retention.",
		}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent queued for a repository lock.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"mode"}),
		running: make(map[int64]struct{}),
	}

	for _, c := range []prometheus.Collector{m.backups, m.duration, m.inProgress, m.mirrors, m.retention, m.removed, m.lockWait} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register backup metrics")
		}
	}
	return m, nil
}

func (m *MetricsSubscriber) SupportedEvents() []Type {
	return []Type{TypeBackupStarted, TypeBackupCompleted, TypeMirrorCompleted, TypeRetentionCompleted}
}

func (m *MetricsSubscriber) HandleEvent(_ context.Context, e Event) error {
	switch ev := e.(type) {
	case BackupStarted:
		m.mu.Lock()
		if _, ok := m.running[ev.ScheduleID]; !ok {
			m.running[ev.ScheduleID] = struct{}{}
			m.inProgress.Inc()
		}
		m.mu.Unlock()
	case BackupCompleted:
		// validation failures complete without having started
		m.mu.Lock()
		if _, ok := m.running[ev.ScheduleID]; ok {
			delete(m.running, ev.ScheduleID)
			m.inProgress.Dec()
		}
		m.mu.Unlock()
		m.backups.WithLabelValues(string(ev.Status)).Inc()
		m.duration.WithLabelValues(string(ev.Status)).Observe(ev.Duration.Seconds())
	case MirrorCompleted:
		m.mirrors.WithLabelValues(string(ev.Status)).Inc()
	case RetentionCompleted:
		if ev.Succeeded() {
			m.retention.WithLabelValues("success").Inc()
			m.removed.Add(float64(ev.Removed))
		} else {
			m.retention.WithLabelValues("error").Inc()
		}
	}
	return nil
}

// ObserveLockWait records how long a lock request stayed queued
func (m *MetricsSubscriber) ObserveLockWait(mode string, seconds float64) {
	m.lockWait.WithLabelValues(mode).Observe(seconds)
}

var _ Subscriber = (*MetricsSubscriber)(nil)
