package model

import "time"

const TableNameBackupSchedule = "backup_schedule"

// RetentionPolicy stored as a JSON column
type RetentionPolicy struct {
	KeepLast    int    `json:"keepLast,omitempty"`
	KeepHourly  int    `json:"keepHourly,omitempty"`
	KeepDaily   int    `json:"keepDaily,omitempty"`
	KeepWeekly  int    `json:"keepWeekly,omitempty"`
	KeepMonthly int    `json:"keepMonthly,omitempty"`
	KeepYearly  int    `json:"keepYearly,omitempty"`
	KeepWithin  string `json:"keepWithin,omitempty"`
}

// BackupSchedule mapped from table <backup_schedule>
type BackupSchedule struct {
	ID               int64            `gorm:"column:id;primaryKey" json:"id"`
	ShortID          string           `gorm:"column:short_id;size:32;not null;uniqueIndex:idx_schedule_short_id" json:"shortId"`
	Name             string           `gorm:"column:name;size:255;not null" json:"name"`
	VolumeID         int64            `gorm:"column:volume_id;not null;index:idx_schedule_volume" json:"volumeId"`
	RepositoryID     int64            `gorm:"column:repository_id;not null;index:idx_schedule_repository" json:"repositoryId"`
	CronExpression   string           `gorm:"column:cron_expression;size:128;not null" json:"cronExpression"`
	Enabled          bool             `gorm:"column:enabled;not null;index:idx_schedule_due,priority:1" json:"enabled"`
	IncludePatterns  []string         `gorm:"column:include_patterns;serializer:json" json:"includePatterns"`
	ExcludePatterns  []string         `gorm:"column:exclude_patterns;serializer:json" json:"excludePatterns"`
	OneFileSystem    bool             `gorm:"column:one_file_system;not null" json:"oneFileSystem"`
	RetentionPolicy  *RetentionPolicy `gorm:"column:retention_policy;serializer:json" json:"retentionPolicy"`
	LastBackupStatus *string          `gorm:"column:last_backup_status;size:32" json:"lastBackupStatus"`
	LastBackupError  *string          `gorm:"column:last_backup_error;type:text" json:"lastBackupError"`
	LastBackupAt     *time.Time       `gorm:"column:last_backup_at" json:"lastBackupAt"`
	NextBackupAt     *time.Time       `gorm:"column:next_backup_at;index:idx_schedule_due,priority:2" json:"nextBackupAt"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName BackupSchedule's table name
func (*BackupSchedule) TableName() string {
	return TableNameBackupSchedule
}
