package model

import "time"

const TableNameBackupScheduleMirror = "backup_schedule_mirror"

// BackupScheduleMirror mapped from table <backup_schedule_mirror>
type BackupScheduleMirror struct {
	ID             int64      `gorm:"column:id;primaryKey" json:"id"`
	ScheduleID     int64      `gorm:"column:schedule_id;not null;uniqueIndex:idx_mirror_schedule_repository,priority:1" json:"scheduleId"`
	RepositoryID   int64      `gorm:"column:repository_id;not null;uniqueIndex:idx_mirror_schedule_repository,priority:2" json:"repositoryId"`
	Enabled        bool       `gorm:"column:enabled;not null" json:"enabled"`
	LastCopyStatus *string    `gorm:"column:last_copy_status;size:32" json:"lastCopyStatus"`
	LastCopyError  *string    `gorm:"column:last_copy_error;type:text" json:"lastCopyError"`
	LastCopyAt     *time.Time `gorm:"column:last_copy_at" json:"lastCopyAt"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName BackupScheduleMirror's table name
func (*BackupScheduleMirror) TableName() string {
	return TableNameBackupScheduleMirror
}
