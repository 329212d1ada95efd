package domain

import "time"

// MirrorStatus 镜像复制结果
type MirrorStatus string

const (
	MirrorStatusSuccess MirrorStatus = "success"
	MirrorStatusError   MirrorStatus = "error"
)

// Mirror schedule → secondary repository association
// Mirror 计划的镜像仓库
type Mirror struct {
	ID             int64
	ScheduleID     int64
	RepositoryID   int64
	Enabled        bool
	LastCopyStatus MirrorStatus // 空值表示从未复制
	LastCopyError  string
	LastCopyAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Repository is resolved by FindEnabledByScheduleID; nil if the row is gone
	Repository *Repository
}

// MirrorStatusUpdate 镜像状态更新
type MirrorStatusUpdate struct {
	LastCopyStatus MirrorStatus
	LastCopyError  string
	LastCopyAt     time.Time
}
