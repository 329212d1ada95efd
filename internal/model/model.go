package model

import (
	"gorm.io/gorm"
)

// All every table managed by this service, in migration order
func All() []any {
	return []any{
		&Volume{},
		&Repository{},
		&BackupSchedule{},
		&BackupScheduleMirror{},
		&Session{},
	}
}

// AutoMigrate 自动迁移全部表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
