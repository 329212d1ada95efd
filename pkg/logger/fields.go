package logger

// 统一的日志字段命名常量
// 用于确保整个项目中日志字段命名的一致性，便于日志查询和分析
const (
	// FieldScheduleID 备份计划 ID 字段
	FieldScheduleID = "scheduleId"

	// FieldRepositoryID 仓库 ID 字段
	FieldRepositoryID = "repositoryId"

	// FieldVolumeID 卷 ID 字段
	FieldVolumeID = "volumeId"

	// FieldMirrorID 镜像 ID 字段
	FieldMirrorID = "mirrorId"

	// FieldLockKey 资源锁 key 字段
	FieldLockKey = "lockKey"

	// FieldTag 快照标签字段
	FieldTag = "tag"

	// FieldTask 任务名称字段
	FieldTask = "task"

	// FieldStatus 状态字段
	FieldStatus = "status"

	// FieldCommand 引擎命令字段
	FieldCommand = "command"

	// FieldExitCode 进程退出码字段
	FieldExitCode = "exitCode"

	// FieldDuration 耗时字段
	FieldDuration = "duration"

	// FieldManual 手动触发字段
	FieldManual = "manual"
)
