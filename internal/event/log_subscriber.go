package event

import (
	"context"

	"github.com/haierkeys/fast-backup-service/pkg/logger"

	"go.uber.org/zap"
)

// LogSubscriber writes every event to the structured log
// LogSubscriber 将事件写入日志
type LogSubscriber struct {
	logger *zap.Logger
}

func NewLogSubscriber(lg *zap.Logger) *LogSubscriber {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &LogSubscriber{logger: lg.Named("event")}
}

func (s *LogSubscriber) SupportedEvents() []Type { return AllTypes() }

func (s *LogSubscriber) HandleEvent(_ context.Context, e Event) error {
	switch ev := e.(type) {
	case BackupStarted:
		s.logger.Info("backup started",
			zap.Int64(logger.FieldScheduleID, ev.ScheduleID),
			zap.String("schedule", ev.ScheduleName),
			zap.String("volume", ev.VolumeName),
			zap.String("repository", ev.RepositoryName),
			zap.Bool(logger.FieldManual, ev.Manual))
	case BackupProgress:
		s.logger.Debug("backup progress",
			zap.Int64(logger.FieldScheduleID, ev.ScheduleID),
			zap.Float64("percent", ev.Progress.PercentDone),
			zap.Int64("filesDone", ev.Progress.FilesDone),
			zap.Uint64("bytesDone", ev.Progress.BytesDone))
	case BackupCompleted:
		fields := []zap.Field{
			zap.Int64(logger.FieldScheduleID, ev.ScheduleID),
			zap.String("schedule", ev.ScheduleName),
			zap.String(logger.FieldStatus, string(ev.Status)),
			zap.Duration(logger.FieldDuration, ev.Duration),
		}
		if ev.Summary != nil {
			fields = append(fields, zap.String("snapshot", ev.Summary.SnapshotID), zap.Uint64("dataAdded", ev.Summary.DataAdded))
		}
		if ev.Error != "" {
			fields = append(fields, zap.String("error", ev.Error))
		}
		s.logger.Info("backup completed", fields...)
	case MirrorStarted:
		s.logger.Info("mirror copy started",
			zap.Int64(logger.FieldScheduleID, ev.ScheduleID),
			zap.Int64(logger.FieldMirrorID, ev.MirrorID),
			zap.String("repository", ev.RepositoryName))
	case MirrorCompleted:
		s.logger.Info("mirror copy completed",
			zap.Int64(logger.FieldScheduleID, ev.ScheduleID),
			zap.Int64(logger.FieldMirrorID, ev.MirrorID),
			zap.String("repository", ev.RepositoryName),
			zap.String(logger.FieldStatus, string(ev.Status)),
			zap.String("error", ev.Error),
			zap.Duration(logger.FieldDuration, ev.Duration))
	case RetentionCompleted:
		s.logger.Info("retention completed",
			zap.Int64(logger.FieldScheduleID, ev.ScheduleID),
			zap.Int64(logger.FieldRepositoryID, ev.RepositoryID),
			zap.Int("kept", ev.Kept),
			zap.Int("removed", ev.Removed),
			zap.String("error", ev.Error))
	}
	return nil
}

var _ Subscriber = (*LogSubscriber)(nil)
