package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/authbatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// terminalStatusExpr mirrors domain.ResolveStatus inside a single UPDATE.
// Every column on the right-hand side reads the pre-update row.
// Args: delta, failed delta, sent delta.
const terminalStatusExpr = `CASE
	WHEN sent_count + failed_count + ? < total_items THEN status
	WHEN failed_count + ? = 0 THEN 'completed'
	WHEN sent_count + ? = 0 THEN 'failed'
	ELSE 'partially_failed'
END`

type ListParams struct {
	ProjectID *string
	Status    *domain.BatchStatus
	Page      int
	PageSize  int
}

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	List(ctx context.Context, params ListParams) ([]domain.Batch, int64, error)
	StartProcessing(ctx context.Context, id string, totalItems int) (*domain.Batch, error)
	RecordOutcome(ctx context.Context, id string, sent int, failed int) (*domain.Batch, error)
	MarkFailed(ctx context.Context, id string, reason string) error
	FinalizeStalled(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) List(ctx context.Context, params ListParams) ([]domain.Batch, int64, error) {
	query := r.db.WithContext(ctx).Model(&BatchModel{})

	if params.ProjectID != nil {
		query = query.Where("project_id = ?", *params.ProjectID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 10
	}
	pageSize = min(pageSize, 100)

	var models []BatchModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}

	return batches, total, nil
}

// StartProcessing fixes the item total of a pending batch and moves it to
// processing, or straight to completed when there is nothing to do.
// A batch that left pending (e.g. stopped) yields ErrConflict.
func (r *GormBatchRepo) StartProcessing(ctx context.Context, id string, totalItems int) (*domain.Batch, error) {
	status := domain.ResolveStatus(domain.BatchStatusProcessing, totalItems, 0, 0)

	var model BatchModel
	result := r.db.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusPending).
		Updates(map[string]any{
			"total_items": totalItems,
			"status":      status,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.missingOrConflict(ctx, id)
	}

	return batchModelToDomain(&model), nil
}

// RecordOutcome atomically adds to the counters and applies the terminal
// transition in the same statement, so the last writer always observes the
// full total. Increments that would overshoot total_items are rejected.
func (r *GormBatchRepo) RecordOutcome(ctx context.Context, id string, sent int, failed int) (*domain.Batch, error) {
	if sent < 0 || failed < 0 {
		return nil, domain.ErrValidation
	}

	delta := sent + failed

	var model BatchModel
	result := r.db.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ? AND sent_count + failed_count + ? <= total_items", id, domain.BatchStatusProcessing, delta).
		Updates(map[string]any{
			"sent_count":   gorm.Expr("sent_count + ?", sent),
			"failed_count": gorm.Expr("failed_count + ?", failed),
			"status":       gorm.Expr(terminalStatusExpr, delta, failed, sent),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.missingOrConflict(ctx, id)
	}

	return batchModelToDomain(&model), nil
}

// MarkFailed records a fatal-to-batch failure. Only pending batches qualify.
func (r *GormBatchRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusPending).
		Updates(map[string]any{
			"status":        domain.BatchStatusFailed,
			"total_items":   0,
			"error_message": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// FinalizeStalled counts the unreached remainder of processing batches idle
// since cutoff as failed and closes them.
func (r *GormBatchRepo) FinalizeStalled(ctx context.Context, cutoff time.Time, limit int) ([]domain.Batch, error) {
	stalled := r.db.
		Model(&BatchModel{}).
		Select("id").
		Where("status = ? AND updated_at < ?", domain.BatchStatusProcessing, cutoff).
		Order("updated_at ASC").
		Limit(limit)

	var models []BatchModel
	err := r.db.WithContext(ctx).
		Model(&models).
		Clauses(clause.Returning{}).
		Where("id IN (?) AND status = ?", stalled, domain.BatchStatusProcessing).
		Updates(map[string]any{
			"failed_count":  gorm.Expr("total_items - sent_count"),
			"status":        gorm.Expr("CASE WHEN sent_count = 0 THEN ? ELSE ? END", domain.BatchStatusFailed, domain.BatchStatusPartiallyFailed),
			"error_message": "stalled: unreached items counted as failed",
		}).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches, nil
}

func (r *GormBatchRepo) missingOrConflict(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict
}
