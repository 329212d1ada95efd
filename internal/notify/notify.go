// Package notify delivers outbound backup notifications
// Package notify 备份通知发送
package notify

import (
	"context"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/engine"
	"github.com/haierkeys/fast-backup-service/pkg/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BackupEvent 通知事件
type BackupEvent string

const (
	EventStart   BackupEvent = "start"
	EventSuccess BackupEvent = "success"
	EventWarning BackupEvent = "warning"
	EventFailure BackupEvent = "failure"
)

// EventForStatus maps a terminal run status to its notification event
func EventForStatus(s domain.BackupStatus) BackupEvent {
	switch s {
	case domain.BackupStatusSuccess:
		return EventSuccess
	case domain.BackupStatusWarning:
		return EventWarning
	default:
		return EventFailure
	}
}

// BackupContext whatever is known about the run when the notification fires
// BackupContext 通知上下文，字段可能部分为空
type BackupContext struct {
	ScheduleName   string
	VolumeName     string
	RepositoryName string
	Manual         bool
	Error          string
	Summary        *engine.BackupSummary
	Duration       time.Duration
}

// Notifier 通知接口
type Notifier interface {
	SendBackupNotification(ctx context.Context, scheduleID int64, event BackupEvent, c BackupContext) error
}

// Nop 丢弃通知
type Nop struct{}

func (Nop) SendBackupNotification(context.Context, int64, BackupEvent, BackupContext) error {
	return nil
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(lg *zap.Logger) *LogNotifier {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &LogNotifier{logger: lg.Named("notify")}
}

func (n *LogNotifier) SendBackupNotification(_ context.Context, scheduleID int64, event BackupEvent, c BackupContext) error {
	n.logger.Info("backup notification",
		zap.Int64(logger.FieldScheduleID, scheduleID),
		zap.String("event", string(event)),
		zap.String("schedule", c.ScheduleName),
		zap.String("volume", c.VolumeName),
		zap.String("repository", c.RepositoryName),
		zap.String("error", c.Error))
	return nil
}

// Multi fans a notification out to several notifiers and joins their errors
type Multi []Notifier

func (m Multi) SendBackupNotification(ctx context.Context, scheduleID int64, event BackupEvent, c BackupContext) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.SendBackupNotification(ctx, scheduleID, event, c))
	}
	return err
}

var (
	_ Notifier = Nop{}
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
