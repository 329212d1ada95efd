// Package engine 备份引擎适配层
// Package engine defines the contract with the external backup tool and a restic CLI implementation
package engine

import (
	"context"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
)

// Engine backup tool command surface
// Engine 备份引擎接口
type Engine interface {
	// Backup runs a backup. A process that ran to completion yields a result with its
	// exit code and a nil error whatever the code; the caller interprets it.
	Backup(ctx context.Context, repo *domain.Repository, opts BackupOptions) (*BackupResult, error)
	// Forget applies policy to the snapshots tagged opts.Tag and prunes unreferenced data
	Forget(ctx context.Context, repo *domain.Repository, policy *domain.RetentionPolicy, opts ForgetOptions) (*ForgetResult, error)
	// Copy copies snapshots tagged opts.Tag from src into dst
	Copy(ctx context.Context, src, dst *domain.Repository, opts CopyOptions) error
	// Check verifies repository integrity
	Check(ctx context.Context, repo *domain.Repository) (*CheckResult, error)
	// Snapshots lists snapshots, filtered by tag when tag is not empty
	Snapshots(ctx context.Context, repo *domain.Repository, tag string) ([]Snapshot, error)
	// Unlock removes stale repository locks
	Unlock(ctx context.Context, repo *domain.Repository) error
}

// Progress periodic backup progress
type Progress struct {
	PercentDone    float64  `json:"percent_done"`
	TotalFiles     int64    `json:"total_files"`
	FilesDone      int64    `json:"files_done"`
	TotalBytes     uint64   `json:"total_bytes"`
	BytesDone      uint64   `json:"bytes_done"`
	SecondsElapsed int64    `json:"seconds_elapsed"`
	CurrentFiles   []string `json:"current_files"`
}

// BackupOptions 备份参数
type BackupOptions struct {
	SourcePath    string
	Include       []string
	Exclude       []string
	OneFileSystem bool
	Compression   string
	Tags          []string
	// OnProgress is invoked at most once per configured progress interval
	OnProgress func(Progress)
}

// BackupSummary final statistics of a backup run
type BackupSummary struct {
	SnapshotID          string  `json:"snapshot_id"`
	FilesNew            int64   `json:"files_new"`
	FilesChanged        int64   `json:"files_changed"`
	FilesUnmodified     int64   `json:"files_unmodified"`
	DirsNew             int64   `json:"dirs_new"`
	DirsChanged         int64   `json:"dirs_changed"`
	DataAdded           uint64  `json:"data_added"`
	TotalFilesProcessed int64   `json:"total_files_processed"`
	TotalBytesProcessed uint64  `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
}

// BackupResult 备份结果
type BackupResult struct {
	ExitCode int
	Summary  *BackupSummary
	// Stderr tail of the process error output
	Stderr   string
	Duration time.Duration
}

// ForgetOptions 保留清理参数
type ForgetOptions struct {
	Tag   string
	Prune bool
	// DryRun reports what would be removed without touching the repository
	DryRun bool
}

// ForgetResult 保留清理结果
type ForgetResult struct {
	Kept    int
	Removed int
}

// CopyOptions 复制参数
type CopyOptions struct {
	Tag string
}

// CheckResult 仓库检查结果
type CheckResult struct {
	Output   string
	Duration time.Duration
}

// Snapshot 快照
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Tags     []string  `json:"tags"`
	Paths    []string  `json:"paths"`
}
