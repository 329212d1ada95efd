package domain

import "time"

// RepositoryStatus 仓库健康状态
type RepositoryStatus string

const (
	RepositoryStatusUnknown RepositoryStatus = "unknown"
	RepositoryStatusHealthy RepositoryStatus = "healthy"
	RepositoryStatusError   RepositoryStatus = "error"
)

// RepositoryConfig connection settings passed through to the backup engine untouched
// RepositoryConfig 仓库连接配置，由引擎适配器解释
type RepositoryConfig map[string]string

// Repository 备份仓库
type Repository struct {
	ID            int64
	ShortID       string
	Name          string
	Type          string // local, s3, sftp, rest, ...
	Config        RepositoryConfig
	Compression   string // auto, off, max
	Status        RepositoryStatus
	LastError     string
	LastCheckedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LockKey resource key used by the lock manager and cache prefixes
func (r *Repository) LockKey() string {
	return r.ShortID
}

// RepositoryHealthUpdate 仓库健康检查结果
type RepositoryHealthUpdate struct {
	Status        RepositoryStatus
	LastError     string
	LastCheckedAt time.Time
}
