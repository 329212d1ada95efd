// Package domain 定义领域模型和接口
package domain

import (
	"context"
	"time"
)

// ScheduleRepository 备份计划仓储接口
type ScheduleRepository interface {
	// FindExecutableIDs 返回已启用且 next_backup_at <= now 的计划 ID
	FindExecutableIDs(ctx context.Context, now time.Time) ([]int64, error)

	// FindByID 返回计划及其卷和仓库；计划不存在时返回 nil, nil
	FindByID(ctx context.Context, id int64) (*ScheduleDetail, error)

	// UpdateStatus 原子地写入状态字段
	UpdateStatus(ctx context.Context, id int64, update ScheduleStatusUpdate) error

	// Create 创建计划
	Create(ctx context.Context, schedule *BackupSchedule) (*BackupSchedule, error)

	// List 获取全部计划
	List(ctx context.Context) ([]*BackupSchedule, error)
}

// MirrorRepository 镜像仓储接口
type MirrorRepository interface {
	// FindEnabledByScheduleID 返回计划的已启用镜像，按 ID 排序，附带目标仓库
	FindEnabledByScheduleID(ctx context.Context, scheduleID int64) ([]*Mirror, error)

	// UpdateStatus 写入最近一次复制结果
	UpdateStatus(ctx context.Context, id int64, update MirrorStatusUpdate) error

	// Create 创建镜像，拒绝与主仓库相同或重复的 (schedule, repository)
	Create(ctx context.Context, mirror *Mirror) (*Mirror, error)

	// ListByScheduleID 获取计划的全部镜像
	ListByScheduleID(ctx context.Context, scheduleID int64) ([]*Mirror, error)
}

// VolumeRepository 卷仓储接口
type VolumeRepository interface {
	GetByID(ctx context.Context, id int64) (*Volume, error)
	List(ctx context.Context) ([]*Volume, error)
	Create(ctx context.Context, volume *Volume) (*Volume, error)
	UpdateStatus(ctx context.Context, id int64, update VolumeStatusUpdate) error
}

// RepoRepository 备份仓库仓储接口
type RepoRepository interface {
	GetByID(ctx context.Context, id int64) (*Repository, error)
	List(ctx context.Context) ([]*Repository, error)
	Create(ctx context.Context, repo *Repository) (*Repository, error)
	UpdateHealth(ctx context.Context, id int64, update RepositoryHealthUpdate) error
}

// SessionRepository 会话仓储接口
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	// DeleteExpired 删除 expires_at <= now 的会话，返回删除数量
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Mounter mounts a volume backend onto its mount path
// Mounter 卷挂载器
type Mounter interface {
	Mount(ctx context.Context, volume *Volume) error
	Unmount(ctx context.Context, volume *Volume) error
}
