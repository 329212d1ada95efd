package domain

import (
	"strings"
	"time"
)

// BackupStatus 备份运行状态
type BackupStatus string

const (
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusSuccess    BackupStatus = "success"
	BackupStatusWarning    BackupStatus = "warning"
	BackupStatusError      BackupStatus = "error"
)

// RetentionPolicy keep-N rules handed to the engine's prune operation
// RetentionPolicy 快照保留策略
type RetentionPolicy struct {
	KeepLast    int    `json:"keepLast,omitempty"`
	KeepHourly  int    `json:"keepHourly,omitempty"`
	KeepDaily   int    `json:"keepDaily,omitempty"`
	KeepWeekly  int    `json:"keepWeekly,omitempty"`
	KeepMonthly int    `json:"keepMonthly,omitempty"`
	KeepYearly  int    `json:"keepYearly,omitempty"`
	KeepWithin  string `json:"keepWithin,omitempty"` // e.g. "30d", "2y5m"
}

// IsEmpty reports whether no keep rule is set
func (p *RetentionPolicy) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.KeepLast <= 0 && p.KeepHourly <= 0 && p.KeepDaily <= 0 && p.KeepWeekly <= 0 &&
		p.KeepMonthly <= 0 && p.KeepYearly <= 0 && strings.TrimSpace(p.KeepWithin) == ""
}

// BackupSchedule 备份计划领域模型
type BackupSchedule struct {
	ID              int64
	ShortID         string // 快照 tag
	Name            string
	VolumeID        int64
	RepositoryID    int64
	CronExpression  string
	Enabled         bool
	IncludePatterns []string
	ExcludePatterns []string
	OneFileSystem   bool
	RetentionPolicy *RetentionPolicy // nil 表示不做保留清理

	LastBackupStatus BackupStatus // 空值表示从未运行
	LastBackupError  string
	LastBackupAt     *time.Time
	NextBackupAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRetention reports whether the schedule carries a usable retention policy
func (s *BackupSchedule) HasRetention() bool {
	return s != nil && !s.RetentionPolicy.IsEmpty()
}

// ScheduleStatusUpdate partial status write; nil fields are left untouched.
// A non-nil LastBackupError pointing at "" clears the stored error.
// ScheduleStatusUpdate 状态更新，nil 字段不修改
type ScheduleStatusUpdate struct {
	LastBackupStatus *BackupStatus
	LastBackupError  *string
	LastBackupAt     *time.Time
	NextBackupAt     *time.Time
}

// ScheduleDetail a schedule with its volume and repository resolved.
// Volume or Repository is nil when the referenced row no longer exists.
// ScheduleDetail 计划及其关联的卷与仓库
type ScheduleDetail struct {
	Schedule   *BackupSchedule
	Volume     *Volume
	Repository *Repository
}
