// Package service implements the business logic layer
// Package service 实现业务逻辑层
package service

import "time"

// ServiceConfig service layer configuration
// ServiceConfig 服务层配置
type ServiceConfig struct {
	Backup     BackupServiceConfig
	Repository RepositoryServiceConfig
	Snapshot   SnapshotServiceConfig
}

// BackupServiceConfig backup execution configuration
// BackupServiceConfig 备份执行配置
type BackupServiceConfig struct {
	PartialSuccessExitCode int           // Engine exit code meaning "completed with unreadable files" // 部分成功退出码
	StatusWriteTimeout     time.Duration // Timeout of a detached status write // 状态写入超时
	PruneOnForget          bool          // Prune unreferenced data after forget // forget 后执行 prune
}

// RepositoryServiceConfig repository health configuration
// RepositoryServiceConfig 仓库健康检查配置
type RepositoryServiceConfig struct {
	CheckConcurrency int // Parallel repository checks // 并行检查数量
}

// SnapshotServiceConfig snapshot listing configuration
// SnapshotServiceConfig 快照列表配置
type SnapshotServiceConfig struct {
	CacheTTL time.Duration // Cache lifetime of snapshot listings // 快照列表缓存时间
}

// DefaultBackupServiceConfig defaults matching restic
func DefaultBackupServiceConfig() BackupServiceConfig {
	return BackupServiceConfig{
		PartialSuccessExitCode: 3,
		StatusWriteTimeout:     30 * time.Second,
		PruneOnForget:          true,
	}
}
