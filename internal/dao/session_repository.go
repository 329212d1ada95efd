package dao

import (
	"context"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/model"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type sessionRepository struct {
	dao *Dao
}

// NewSessionRepository 创建 SessionRepository 实例
func NewSessionRepository(dao *Dao) domain.SessionRepository {
	return &sessionRepository{dao: dao}
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	m := &model.Session{}
	if err := copier.Copy(m, session); err != nil {
		return errors.Wrap(err, "copy session")
	}
	m.ExpiresAt = m.ExpiresAt.UTC()
	if m.ID == "" {
		m.ID = NewShortID() + NewShortID()
	}
	return r.dao.ExecuteWrite(ctx, model.TableNameSession, func(db *gorm.DB) error {
		return errors.Wrap(db.Create(m).Error, "create session")
	})
}

// DeleteExpired 删除已过期会话
func (r *sessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	err := r.dao.ExecuteWrite(ctx, model.TableNameSession, func(db *gorm.DB) error {
		res := db.Where("expires_at <= ?", now.UTC()).Delete(&model.Session{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, errors.Wrap(err, "delete expired sessions")
	}
	return deleted, nil
}
