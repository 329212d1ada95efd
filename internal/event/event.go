// Package event carries backup lifecycle events from the execution engine to its observers
// Package event 备份生命周期事件及其分发
package event

import (
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/engine"
)

// Type 事件类型
type Type string

const (
	TypeBackupStarted      Type = "backup.started"
	TypeBackupProgress     Type = "backup.progress"
	TypeBackupCompleted    Type = "backup.completed"
	TypeMirrorStarted      Type = "mirror.started"
	TypeMirrorCompleted    Type = "mirror.completed"
	TypeRetentionCompleted Type = "retention.completed"
)

// AllTypes lists every event type in emission order of a full run
func AllTypes() []Type {
	return []Type{
		TypeBackupStarted,
		TypeBackupProgress,
		TypeBackupCompleted,
		TypeMirrorStarted,
		TypeMirrorCompleted,
		TypeRetentionCompleted,
	}
}

// Event is implemented only by the payload types of this package
// Event 事件接口，仅本包内的载荷类型实现
type Event interface {
	Type() Type
	Schedule() int64
	sealed()
}

// BackupStarted 备份开始
type BackupStarted struct {
	ScheduleID     int64
	ScheduleName   string
	VolumeName     string
	RepositoryName string
	Manual         bool
	At             time.Time
}

// BackupProgress 备份进度
type BackupProgress struct {
	ScheduleID int64
	Progress   engine.Progress
}

// BackupCompleted is emitted for every terminal outcome of a run, including
// validation failures, so observers never lose track of a started run.
// BackupCompleted 备份结束（含校验失败）
type BackupCompleted struct {
	ScheduleID     int64
	ScheduleName   string
	VolumeName     string
	RepositoryName string
	Status         domain.BackupStatus
	Error          string
	Summary        *engine.BackupSummary
	Duration       time.Duration
	At             time.Time
}

// MirrorStarted 镜像复制开始
type MirrorStarted struct {
	ScheduleID     int64
	MirrorID       int64
	RepositoryID   int64
	RepositoryName string
}

// MirrorCompleted 镜像复制结束
type MirrorCompleted struct {
	ScheduleID     int64
	MirrorID       int64
	RepositoryID   int64
	RepositoryName string
	Status         domain.MirrorStatus
	Error          string
	Duration       time.Duration
}

// RetentionCompleted 保留策略清理结束
type RetentionCompleted struct {
	ScheduleID     int64
	RepositoryID   int64
	RepositoryName string
	Kept           int
	Removed        int
	Error          string
	Duration       time.Duration
}

// Succeeded reports whether the prune finished without error
func (e RetentionCompleted) Succeeded() bool { return e.Error == "" }

func (BackupStarted) Type() Type      { return TypeBackupStarted }
func (BackupProgress) Type() Type     { return TypeBackupProgress }
func (BackupCompleted) Type() Type    { return TypeBackupCompleted }
func (MirrorStarted) Type() Type      { return TypeMirrorStarted }
func (MirrorCompleted) Type() Type    { return TypeMirrorCompleted }
func (RetentionCompleted) Type() Type { return TypeRetentionCompleted }

func (e BackupStarted) Schedule() int64      { return e.ScheduleID }
func (e BackupProgress) Schedule() int64     { return e.ScheduleID }
func (e BackupCompleted) Schedule() int64    { return e.ScheduleID }
func (e MirrorStarted) Schedule() int64      { return e.ScheduleID }
func (e MirrorCompleted) Schedule() int64    { return e.ScheduleID }
func (e RetentionCompleted) Schedule() int64 { return e.ScheduleID }

func (BackupStarted) sealed()      {}
func (BackupProgress) sealed()     {}
func (BackupCompleted) sealed()    {}
func (MirrorStarted) sealed()      {}
func (MirrorCompleted) sealed()    {}
func (RetentionCompleted) sealed() {}
