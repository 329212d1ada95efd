package dao

import (
	"context"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/internal/model"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type repoRepository struct {
	dao *Dao
}

// NewRepoRepository 创建 RepoRepository 实例
func NewRepoRepository(dao *Dao) domain.RepoRepository {
	return &repoRepository{dao: dao}
}

func (r *repoRepository) toDomain(m *model.Repository) (*domain.Repository, error) {
	d := &domain.Repository{}
	if err := copier.CopyWithOption(d, m, copier.Option{IgnoreEmpty: true}); err != nil {
		return nil, errors.Wrap(err, "copy repository")
	}
	d.Status = domain.RepositoryStatus(m.Status)
	d.Config = make(domain.RepositoryConfig, len(m.Config))
	for k, v := range m.Config {
		d.Config[k] = v
	}
	return d, nil
}

// GetByID 仓库不存在时返回 nil, nil
func (r *repoRepository) GetByID(ctx context.Context, id int64) (*domain.Repository, error) {
	var m model.Repository
	if err := r.dao.DB(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get repository %d", id)
	}
	return r.toDomain(&m)
}

func (r *repoRepository) List(ctx context.Context) ([]*domain.Repository, error) {
	var rows []*model.Repository
	if err := r.dao.DB(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list repositories")
	}
	result := make([]*domain.Repository, 0, len(rows))
	for _, m := range rows {
		repo, err := r.toDomain(m)
		if err != nil {
			return nil, err
		}
		result = append(result, repo)
	}
	return result, nil
}

func (r *repoRepository) Create(ctx context.Context, repo *domain.Repository) (*domain.Repository, error) {
	m := &model.Repository{
		ShortID:     repo.ShortID,
		Name:        repo.Name,
		Type:        repo.Type,
		Config:      map[string]string(repo.Config),
		Compression: repo.Compression,
		Status:      string(repo.Status),
	}
	if m.ShortID == "" {
		m.ShortID = NewShortID()
	}
	err := r.dao.ExecuteWrite(ctx, model.TableNameRepository, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "create repository")
	}
	return r.toDomain(m)
}

func (r *repoRepository) UpdateHealth(ctx context.Context, id int64, u domain.RepositoryHealthUpdate) error {
	updates := map[string]any{
		"status":          string(u.Status),
		"last_error":      u.LastError,
		"last_checked_at": u.LastCheckedAt.UTC(),
	}
	return r.dao.ExecuteWrite(ctx, model.TableNameRepository, func(db *gorm.DB) error {
		return errors.Wrapf(
			db.Model(&model.Repository{}).Where("id = ?", id).Updates(updates).Error,
			"update repository %d health", id)
	})
}
