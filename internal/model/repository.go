package model

import "time"

const TableNameRepository = "repository"

// Repository mapped from table <repository>
type Repository struct {
	ID            int64             `gorm:"column:id;primaryKey" json:"id"`
	ShortID       string            `gorm:"column:short_id;size:32;not null;uniqueIndex:idx_repository_short_id" json:"shortId"`
	Name          string            `gorm:"column:name;size:255;not null" json:"name"`
	Type          string            `gorm:"column:type;size:32;not null" json:"type"`
	Config        map[string]string `gorm:"column:config;serializer:json" json:"config"`
	Compression   string            `gorm:"column:compression;size:16;not null;default:auto" json:"compression"`
	Status        string            `gorm:"column:status;size:32;not null;default:unknown" json:"status"`
	LastError     string            `gorm:"column:last_error;type:text" json:"lastError"`
	LastCheckedAt *time.Time        `gorm:"column:last_checked_at" json:"lastCheckedAt"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName Repository's table name
func (*Repository) TableName() string {
	return TableNameRepository
}
