package dao

import (
	"context"
	"fmt"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/model"
	"github.com/haierkeys/fast-backup-service/pkg/code"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type mirrorRepository struct {
	dao *Dao
}

// NewMirrorRepository 创建 MirrorRepository 实例
func NewMirrorRepository(dao *Dao) domain.MirrorRepository {
	return &mirrorRepository{dao: dao}
}

func (r *mirrorRepository) toDomain(m *model.BackupScheduleMirror) *domain.Mirror {
	return &domain.Mirror{
		ID:             m.ID,
		ScheduleID:     m.ScheduleID,
		RepositoryID:   m.RepositoryID,
		Enabled:        m.Enabled,
		LastCopyStatus: domain.MirrorStatus(strVal(m.LastCopyStatus)),
		LastCopyError:  strVal(m.LastCopyError),
		LastCopyAt:     m.LastCopyAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FindEnabledByScheduleID 返回已启用镜像并附带目标仓库
func (r *mirrorRepository) FindEnabledByScheduleID(ctx context.Context, scheduleID int64) ([]*domain.Mirror, error) {
	var rows []*model.BackupScheduleMirror
	err := r.dao.DB(ctx).
		Where("schedule_id = ? AND enabled = ?", scheduleID, true).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "find mirrors of schedule %d", scheduleID)
	}

	repos := NewRepoRepository(r.dao)
	result := make([]*domain.Mirror, 0, len(rows))
	for _, m := range rows {
		mirror := r.toDomain(m)
		repo, err := repos.GetByID(ctx, m.RepositoryID)
		if err != nil {
			return nil, err
		}
		mirror.Repository = repo
		result = append(result, mirror)
	}
	return result, nil
}

// ListByScheduleID 获取计划的全部镜像
func (r *mirrorRepository) ListByScheduleID(ctx context.Context, scheduleID int64) ([]*domain.Mirror, error) {
	var rows []*model.BackupScheduleMirror
	if err := r.dao.DB(ctx).Where("schedule_id = ?", scheduleID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "list mirrors of schedule %d", scheduleID)
	}
	result := make([]*domain.Mirror, 0, len(rows))
	for _, m := range rows {
		result = append(result, r.toDomain(m))
	}
	return result, nil
}

// UpdateStatus 写入最近一次复制结果
func (r *mirrorRepository) UpdateStatus(ctx context.Context, id int64, u domain.MirrorStatusUpdate) error {
	updates := map[string]any{
		"last_copy_status": string(u.LastCopyStatus),
		"last_copy_at":     u.LastCopyAt.UTC(),
	}
	if u.LastCopyError == "" {
		updates["last_copy_error"] = gorm.Expr("NULL")
	} else {
		updates["last_copy_error"] = u.LastCopyError
	}

	return r.dao.ExecuteWrite(ctx, model.TableNameBackupScheduleMirror, func(db *gorm.DB) error {
		res := db.Model(&model.BackupScheduleMirror{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return errors.Wrapf(res.Error, "update mirror %d status", id)
		}
		if res.RowsAffected == 0 {
			return code.ErrorMirrorNotFound.WithDetails(fmt.Sprintf("id=%d", id))
		}
		return nil
	})
}

// Create 创建镜像
// 镜像仓库不能等于计划主仓库，同一 (schedule, repository) 只能出现一次
func (r *mirrorRepository) Create(ctx context.Context, mirror *domain.Mirror) (*domain.Mirror, error) {
	var schedule model.BackupSchedule
	if err := r.dao.DB(ctx).Where("id = ?", mirror.ScheduleID).First(&schedule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, code.ErrorScheduleNotFound.WithDetails(fmt.Sprintf("id=%d", mirror.ScheduleID))
		}
		return nil, errors.Wrap(err, "load schedule for mirror")
	}
	if schedule.RepositoryID == mirror.RepositoryID {
		return nil, code.ErrorMirrorIsPrimary
	}

	repo, err := NewRepoRepository(r.dao).GetByID(ctx, mirror.RepositoryID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, code.ErrorRepositoryNotFound.WithDetails(fmt.Sprintf("id=%d", mirror.RepositoryID))
	}

	m := &model.BackupScheduleMirror{
		ScheduleID:   mirror.ScheduleID,
		RepositoryID: mirror.RepositoryID,
		Enabled:      mirror.Enabled,
	}
	err = r.dao.ExecuteWrite(ctx, model.TableNameBackupScheduleMirror, func(db *gorm.DB) error {
		var n int64
		if err := db.Model(&model.BackupScheduleMirror{}).
			Where("schedule_id = ? AND repository_id = ?", m.ScheduleID, m.RepositoryID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return code.ErrorMirrorDuplicate
		}
		return db.Create(m).Error
	})
	if err != nil {
		if code.IsConflict(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create mirror")
	}

	out := r.toDomain(m)
	out.Repository = repo
	return out, nil
}
