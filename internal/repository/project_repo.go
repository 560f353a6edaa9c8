package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/authbatch/internal/domain"
	"gorm.io/gorm"
)

const uniqueViolationCode = "23505"

type ProjectRepository interface {
	Create(ctx context.Context, p *domain.Project) error
	GetByProjectID(ctx context.Context, projectID string) (*domain.Project, error)
	List(ctx context.Context) ([]domain.Project, error)
	Delete(ctx context.Context, projectID string) error
}

type GormProjectRepo struct {
	db *gorm.DB
}

func NewGormProjectRepo(db *gorm.DB) *GormProjectRepo {
	return &GormProjectRepo{db: db}
}

func (r *GormProjectRepo) Create(ctx context.Context, p *domain.Project) error {
	model := projectModelFromDomain(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.ErrConflict
		}
		return err
	}
	if p != nil {
		*p = *projectModelToDomain(model)
	}
	return nil
}

func (r *GormProjectRepo) GetByProjectID(ctx context.Context, projectID string) (*domain.Project, error) {
	var model ProjectModel
	err := r.db.WithContext(ctx).First(&model, "project_id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return projectModelToDomain(&model), nil
}

func (r *GormProjectRepo) List(ctx context.Context) ([]domain.Project, error) {
	var models []ProjectModel
	if err := r.db.WithContext(ctx).Order("project_id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	projects := make([]domain.Project, 0, len(models))
	for i := range models {
		projects = append(projects, *projectModelToDomain(&models[i]))
	}
	return projects, nil
}

// Delete removes a project unless one of its batches is still pending or
// processing, which yields ErrConflict.
func (r *GormProjectRepo) Delete(ctx context.Context, projectID string) error {
	active := r.db.
		Model(&BatchModel{}).
		Select("1").
		Where("project_id = ? AND status IN ?", projectID, []domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing})

	result := r.db.WithContext(ctx).
		Where("project_id = ? AND NOT EXISTS (?)", projectID, active).
		Delete(&ProjectModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := r.GetByProjectID(ctx, projectID); err != nil {
		return err
	}
	return domain.ErrConflict
}
