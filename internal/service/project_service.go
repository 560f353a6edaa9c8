package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/authbatch/internal/domain"
	"github.com/kursadbilgin/authbatch/internal/repository"
	"go.uber.org/zap"
)

// ProjectService maintains the registry of projects the engine may act on.
type ProjectService struct {
	projects repository.ProjectRepository
	logger   *zap.Logger
	newID    func() string
}

func NewProjectService(projects repository.ProjectRepository, logger *zap.Logger) (*ProjectService, error) {
	if projects == nil {
		return nil, fmt.Errorf("project repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ProjectService{
		projects: projects,
		logger:   logger,
		newID:    uuid.NewString,
	}, nil
}

// Register adds a project. The credentials file itself is read lazily when a
// batch first needs it.
func (s *ProjectService) Register(ctx context.Context, p domain.Project) (*domain.Project, error) {
	p.ProjectID = strings.TrimSpace(p.ProjectID)
	p.Name = strings.TrimSpace(p.Name)
	p.AccountEmail = strings.TrimSpace(p.AccountEmail)
	p.CredentialsPath = strings.TrimSpace(p.CredentialsPath)

	if err := p.Validate(); err != nil {
		return nil, err
	}

	p.ID = s.newID()
	if err := s.projects.Create(ctx, &p); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: project %q is already registered", domain.ErrConflict, p.ProjectID)
		}
		return nil, fmt.Errorf("failed to register project: %w", err)
	}

	s.logger.Info("project registered", zap.String("projectId", p.ProjectID))
	return &p, nil
}

func (s *ProjectService) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	if err := domain.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	return s.projects.GetByProjectID(ctx, projectID)
}

func (s *ProjectService) List(ctx context.Context) ([]domain.Project, error) {
	return s.projects.List(ctx)
}

// Remove unregisters a project. Projects with a pending or processing batch
// stay registered.
func (s *ProjectService) Remove(ctx context.Context, projectID string) error {
	if err := domain.ValidateProjectID(projectID); err != nil {
		return err
	}

	if err := s.projects.Delete(ctx, projectID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: project %q has batches in flight", domain.ErrConflict, projectID)
		}
		return err
	}

	s.logger.Info("project removed", zap.String("projectId", projectID))
	return nil
}
