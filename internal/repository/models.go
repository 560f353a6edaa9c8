package repository

import (
	"time"

	"github.com/kursadbilgin/authbatch/internal/domain"
)

// BatchModel is the persistence model for bulk_batches.
type BatchModel struct {
	ID           string             `gorm:"type:uuid;primaryKey"`
	ProjectID    string             `gorm:"type:varchar(64);not null;index"`
	Operation    domain.Operation   `gorm:"type:varchar(20);not null"`
	Status       domain.BatchStatus `gorm:"type:varchar(20);not null"`
	TotalItems   int                `gorm:"not null;default:0"`
	SentCount    int                `gorm:"not null;default:0"`
	FailedCount  int                `gorm:"not null;default:0"`
	ErrorMessage *string            `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (BatchModel) TableName() string {
	return "bulk_batches"
}

// ProjectModel is the persistence model for firebase_projects.
type ProjectModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	ProjectID       string `gorm:"type:varchar(64);not null;uniqueIndex"`
	Name            string `gorm:"type:varchar(255);not null"`
	AccountEmail    string `gorm:"type:varchar(255)"`
	CredentialsPath string `gorm:"type:text;not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ProjectModel) TableName() string {
	return "firebase_projects"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:           b.ID,
		ProjectID:    b.ProjectID,
		Operation:    b.Operation,
		Status:       b.Status,
		TotalItems:   b.TotalItems,
		SentCount:    b.SentCount,
		FailedCount:  b.FailedCount,
		ErrorMessage: b.ErrorMessage,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:           m.ID,
		ProjectID:    m.ProjectID,
		Operation:    m.Operation,
		Status:       m.Status,
		TotalItems:   m.TotalItems,
		SentCount:    m.SentCount,
		FailedCount:  m.FailedCount,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func projectModelFromDomain(p *domain.Project) *ProjectModel {
	if p == nil {
		return nil
	}

	return &ProjectModel{
		ID:              p.ID,
		ProjectID:       p.ProjectID,
		Name:            p.Name,
		AccountEmail:    p.AccountEmail,
		CredentialsPath: p.CredentialsPath,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func projectModelToDomain(m *ProjectModel) *domain.Project {
	if m == nil {
		return nil
	}

	return &domain.Project{
		ID:              m.ID,
		ProjectID:       m.ProjectID,
		Name:            m.Name,
		AccountEmail:    m.AccountEmail,
		CredentialsPath: m.CredentialsPath,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
