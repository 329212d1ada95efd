package model

import "time"

const TableNameVolume = "volume"

// Volume mapped from table <volume>
type Volume struct {
	ID                int64      `gorm:"column:id;primaryKey" json:"id"`
	ShortID           string     `gorm:"column:short_id;size:32;not null;uniqueIndex:idx_volume_short_id" json:"shortId"`
	Name              string     `gorm:"column:name;size:255;not null" json:"name"`
	Backend           string     `gorm:"column:backend;size:32;not null" json:"backend"`
	Source            string     `gorm:"column:source;size:1024" json:"source"`
	MountPath         string     `gorm:"column:mount_path;size:1024;not null" json:"mountPath"`
	MountOptions      string     `gorm:"column:mount_options;size:1024" json:"mountOptions"`
	Status            string     `gorm:"column:status;size:32;not null;default:unmounted" json:"status"`
	LastError         string     `gorm:"column:last_error;type:text" json:"lastError"`
	AutoRemount       bool       `gorm:"column:auto_remount;not null" json:"autoRemount"`
	LastHealthCheckAt *time.Time `gorm:"column:last_health_check_at" json:"lastHealthCheckAt"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName Volume's table name
func (*Volume) TableName() string {
	return TableNameVolume
}
