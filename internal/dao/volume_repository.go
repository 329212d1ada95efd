package dao

import (
	"context"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/model"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type volumeRepository struct {
	dao *Dao
}

// NewVolumeRepository 创建 VolumeRepository 实例
func NewVolumeRepository(dao *Dao) domain.VolumeRepository {
	return &volumeRepository{dao: dao}
}

func (r *volumeRepository) toDomain(m *model.Volume) (*domain.Volume, error) {
	d := &domain.Volume{}
	if err := copier.Copy(d, m); err != nil {
		return nil, errors.Wrap(err, "copy volume")
	}
	d.Status = domain.VolumeStatus(m.Status)
	return d, nil
}

// GetByID 卷不存在时返回 nil, nil
func (r *volumeRepository) GetByID(ctx context.Context, id int64) (*domain.Volume, error) {
	var m model.Volume
	if err := r.dao.DB(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get volume %d", id)
	}
	return r.toDomain(&m)
}

func (r *volumeRepository) List(ctx context.Context) ([]*domain.Volume, error) {
	var rows []*model.Volume
	if err := r.dao.DB(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list volumes")
	}
	result := make([]*domain.Volume, 0, len(rows))
	for _, m := range rows {
		v, err := r.toDomain(m)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func (r *volumeRepository) Create(ctx context.Context, volume *domain.Volume) (*domain.Volume, error) {
	m := &model.Volume{}
	if err := copier.Copy(m, volume); err != nil {
		return nil, errors.Wrap(err, "copy volume")
	}
	m.ID = 0
	m.Status = string(volume.Status)
	if m.ShortID == "" {
		m.ShortID = NewShortID()
	}
	err := r.dao.ExecuteWrite(ctx, model.TableNameVolume, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "create volume")
	}
	return r.toDomain(m)
}

func (r *volumeRepository) UpdateStatus(ctx context.Context, id int64, u domain.VolumeStatusUpdate) error {
	updates := map[string]any{
		"status":     string(u.Status),
		"last_error": u.LastError,
	}
	if u.LastHealthCheckAt != nil {
		updates["last_health_check_at"] = u.LastHealthCheckAt.UTC()
	}
	return r.dao.ExecuteWrite(ctx, model.TableNameVolume, func(db *gorm.DB) error {
		return errors.Wrapf(
			db.Model(&model.Volume{}).Where("id = ?", id).Updates(updates).Error,
			"update volume %d status", id)
	})
}
