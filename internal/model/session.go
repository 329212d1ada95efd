package model

import "time"

const TableNameSession = "session"

// Session mapped from table <session>
type Session struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Subject   string    `gorm:"column:subject;size:255" json:"subject"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index:idx_session_expires_at" json:"expiresAt"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName Session's table name
func (*Session) TableName() string {
	return TableNameSession
}
