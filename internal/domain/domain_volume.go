package domain

import "time"

// VolumeStatus 卷挂载状态
type VolumeStatus string

const (
	VolumeStatusMounted   VolumeStatus = "mounted"
	VolumeStatusUnmounted VolumeStatus = "unmounted"
	VolumeStatusError     VolumeStatus = "error"
)

// Volume 备份源卷
type Volume struct {
	ID                int64
	ShortID           string
	Name              string
	Backend           string // directory, nfs, smb, ...
	Source            string // backend specific source, e.g. an export path
	MountPath         string
	MountOptions      string
	Status            VolumeStatus
	LastError         string
	AutoRemount       bool
	LastHealthCheckAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsMounted 卷是否处于已挂载状态
func (v *Volume) IsMounted() bool {
	return v != nil && v.Status == VolumeStatusMounted
}

// VolumeStatusUpdate 卷状态更新
type VolumeStatusUpdate struct {
	Status            VolumeStatus
	LastError         string
	LastHealthCheckAt *time.Time
}
