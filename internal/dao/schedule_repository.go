package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/model"
	"github.com/haierkeys/fast-backup-service/pkg/code"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type scheduleRepository struct {
	dao *Dao
}

// NewScheduleRepository 创建 ScheduleRepository 实例
func NewScheduleRepository(dao *Dao) domain.ScheduleRepository {
	return &scheduleRepository{dao: dao}
}

func (r *scheduleRepository) toDomain(m *model.BackupSchedule) *domain.BackupSchedule {
	if m == nil {
		return nil
	}
	s := &domain.BackupSchedule{
		ID:               m.ID,
		ShortID:          m.ShortID,
		Name:             m.Name,
		VolumeID:         m.VolumeID,
		RepositoryID:     m.RepositoryID,
		CronExpression:   m.CronExpression,
		Enabled:          m.Enabled,
		IncludePatterns:  m.IncludePatterns,
		ExcludePatterns:  m.ExcludePatterns,
		OneFileSystem:    m.OneFileSystem,
		LastBackupStatus: domain.BackupStatus(strVal(m.LastBackupStatus)),
		LastBackupError:  strVal(m.LastBackupError),
		LastBackupAt:     m.LastBackupAt,
		NextBackupAt:     m.NextBackupAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if p := m.RetentionPolicy; p != nil {
		s.RetentionPolicy = &domain.RetentionPolicy{
			KeepLast:    p.KeepLast,
			KeepHourly:  p.KeepHourly,
			KeepDaily:   p.KeepDaily,
			KeepWeekly:  p.KeepWeekly,
			KeepMonthly: p.KeepMonthly,
			KeepYearly:  p.KeepYearly,
			KeepWithin:  p.KeepWithin,
		}
	}
	return s
}

func (r *scheduleRepository) toModel(d *domain.BackupSchedule) *model.BackupSchedule {
	m := &model.BackupSchedule{
		ID:               d.ID,
		ShortID:          d.ShortID,
		Name:             d.Name,
		VolumeID:         d.VolumeID,
		RepositoryID:     d.RepositoryID,
		CronExpression:   d.CronExpression,
		Enabled:          d.Enabled,
		IncludePatterns:  d.IncludePatterns,
		ExcludePatterns:  d.ExcludePatterns,
		OneFileSystem:    d.OneFileSystem,
		LastBackupStatus: strPtr(string(d.LastBackupStatus)),
		LastBackupError:  strPtr(d.LastBackupError),
		LastBackupAt:     d.LastBackupAt,
		NextBackupAt:     d.NextBackupAt,
	}
	if !d.RetentionPolicy.IsEmpty() {
		p := d.RetentionPolicy
		m.RetentionPolicy = &model.RetentionPolicy{
			KeepLast:    p.KeepLast,
			KeepHourly:  p.KeepHourly,
			KeepDaily:   p.KeepDaily,
			KeepWeekly:  p.KeepWeekly,
			KeepMonthly: p.KeepMonthly,
			KeepYearly:  p.KeepYearly,
			KeepWithin:  p.KeepWithin,
		}
	}
	return m
}

// FindExecutableIDs 返回到期的计划 ID，按到期时间排序
// An enabled schedule that has never been scheduled (next_backup_at NULL) is due
// immediately and sorts ahead of the rest; the first run fills in next_backup_at.
func (r *scheduleRepository) FindExecutableIDs(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	err := r.dao.DB(ctx).Model(&model.BackupSchedule{}).
		Where("enabled = ? AND (next_backup_at IS NULL OR next_backup_at <= ?)", true, now.UTC()).
		Order("CASE WHEN next_backup_at IS NULL THEN 0 ELSE 1 END, next_backup_at ASC, id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "find executable schedules")
	}
	return ids, nil
}

// FindByID 加载计划并解析卷与仓库
func (r *scheduleRepository) FindByID(ctx context.Context, id int64) (*domain.ScheduleDetail, error) {
	var m model.BackupSchedule
	if err := r.dao.DB(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "find schedule %d", id)
	}

	detail := &domain.ScheduleDetail{Schedule: r.toDomain(&m)}

	vol, err := NewVolumeRepository(r.dao).GetByID(ctx, m.VolumeID)
	if err != nil {
		return nil, err
	}
	detail.Volume = vol

	repo, err := NewRepoRepository(r.dao).GetByID(ctx, m.RepositoryID)
	if err != nil {
		return nil, err
	}
	detail.Repository = repo

	return detail, nil
}

// UpdateStatus 写入状态字段，单条 UPDATE 保证原子性
func (r *scheduleRepository) UpdateStatus(ctx context.Context, id int64, u domain.ScheduleStatusUpdate) error {
	updates := map[string]any{}
	if u.LastBackupStatus != nil {
		updates["last_backup_status"] = string(*u.LastBackupStatus)
	}
	if u.LastBackupError != nil {
		if *u.LastBackupError == "" {
			updates["last_backup_error"] = gorm.Expr("NULL")
		} else {
			updates["last_backup_error"] = *u.LastBackupError
		}
	}
	if u.LastBackupAt != nil {
		updates["last_backup_at"] = u.LastBackupAt.UTC()
	}
	if u.NextBackupAt != nil {
		updates["next_backup_at"] = u.NextBackupAt.UTC()
	}
	if len(updates) == 0 {
		return nil
	}

	return r.dao.ExecuteWrite(ctx, model.TableNameBackupSchedule, func(db *gorm.DB) error {
		res := db.Model(&model.BackupSchedule{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return errors.Wrapf(res.Error, "update schedule %d status", id)
		}
		if res.RowsAffected == 0 {
			return code.ErrorScheduleNotFound.WithDetails(fmt.Sprintf("id=%d", id))
		}
		return nil
	})
}

// Create 创建计划，ShortID 为空时自动生成
func (r *scheduleRepository) Create(ctx context.Context, s *domain.BackupSchedule) (*domain.BackupSchedule, error) {
	m := r.toModel(s)
	m.ID = 0
	m.LastBackupAt = utcPtr(m.LastBackupAt)
	m.NextBackupAt = utcPtr(m.NextBackupAt)
	if m.ShortID == "" {
		m.ShortID = NewShortID()
	}
	err := r.dao.ExecuteWrite(ctx, model.TableNameBackupSchedule, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "create schedule")
	}
	return r.toDomain(m), nil
}

// List 获取全部计划
func (r *scheduleRepository) List(ctx context.Context) ([]*domain.BackupSchedule, error) {
	var rows []*model.BackupSchedule
	if err := r.dao.DB(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list schedules")
	}
	result := make([]*domain.BackupSchedule, 0, len(rows))
	for _, m := range rows {
		result = append(result, r.toDomain(m))
	}
	return result, nil
}
