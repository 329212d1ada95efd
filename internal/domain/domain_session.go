package domain

import "time"

// Session 登录会话
type Session struct {
	ID        string
	Subject   string
	ExpiresAt time.Time
	CreatedAt time.Time
}
