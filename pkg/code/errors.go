package code

var (
	ErrorServerInternal = NewError(500, KindInternal, lang{en: "Internal Server Error", zh_cn: "服务器内部错误"})

	ErrorScheduleNotFound   = NewError(404001, KindNotFound, lang{en: "Backup schedule not found", zh_cn: "备份计划不存在"})
	ErrorVolumeNotFound     = NewError(404002, KindNotFound, lang{en: "Volume not found", zh_cn: "卷不存在"})
	ErrorRepositoryNotFound = NewError(404003, KindNotFound, lang{en: "Repository not found", zh_cn: "仓库不存在"})
	ErrorMirrorNotFound     = NewError(404004, KindNotFound, lang{en: "Mirror not found", zh_cn: "镜像不存在"})

	ErrorVolumeNotMounted       = NewError(409001, KindInvalidState, lang{en: "Volume is not mounted", zh_cn: "卷未挂载"})
	ErrorNoRetentionPolicy      = NewError(409002, KindInvalidState, lang{en: "No retention policy configured for this schedule", zh_cn: "该备份计划未配置保留策略"})
	ErrorScheduleDisabled       = NewError(409003, KindInvalidState, lang{en: "Backup schedule is disabled", zh_cn: "备份计划已禁用"})
	ErrorMirrorIsPrimary        = NewError(409004, KindInvalidState, lang{en: "Mirror repository must differ from the primary repository", zh_cn: "镜像仓库不能与主仓库相同"})
	ErrorVolumeBackendNoMounter = NewError(409005, KindInvalidState, lang{en: "No mounter registered for volume backend", zh_cn: "卷后端没有可用的挂载器"})

	ErrorBackupNotRunning     = NewError(409101, KindConflict, lang{en: "No backup is currently running for this schedule", zh_cn: "该备份计划当前没有正在运行的备份"})
	ErrorBackupAlreadyRunning = NewError(409102, KindConflict, lang{en: "Backup is already running for this schedule", zh_cn: "该备份计划已有备份正在运行"})
	ErrorDoctorRunning        = NewError(409103, KindConflict, lang{en: "Doctor is already in progress for this repository", zh_cn: "该仓库正在执行修复"})
	ErrorBackupFinishing      = NewError(409105, KindConflict, lang{en: "Backup is already finishing and can no longer be stopped", zh_cn: "备份即将结束，无法再停止"})
	ErrorMirrorDuplicate      = NewError(409104, KindConflict, lang{en: "Mirror already exists for this schedule and repository", zh_cn: "该备份计划与仓库的镜像已存在"})

	ErrorBackupStopped     = NewError(499001, KindAborted, lang{en: "Backup was stopped by user", zh_cn: "备份已被用户停止"})
	ErrorBackupShutdown    = NewError(499002, KindAborted, lang{en: "Backup was stopped by system", zh_cn: "备份已被系统停止"})
	ErrorLockAborted       = NewError(499003, KindAborted, lang{en: "Lock acquisition aborted", zh_cn: "获取锁已取消"})
	ErrorBackupInterrupted = NewError(499004, KindAborted, lang{en: "Backup was interrupted by a restart", zh_cn: "备份因服务重启而中断"})

	ErrorCronInvalid          = NewError(400001, KindBadRequest, lang{en: "Invalid cron expression", zh_cn: "Cron 表达式无效"})
	ErrorRepositoryConfig     = NewError(400002, KindBadRequest, lang{en: "Invalid repository configuration", zh_cn: "仓库配置无效"})
	ErrorRetentionPolicyEmpty = NewError(400003, KindBadRequest, lang{en: "Retention policy keeps nothing", zh_cn: "保留策略为空"})
)
