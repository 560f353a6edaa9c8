package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/authbatch/internal/domain"
)

type ProjectService interface {
	Register(ctx context.Context, p domain.Project) (*domain.Project, error)
	List(ctx context.Context) ([]domain.Project, error)
	Remove(ctx context.Context, projectID string) error
}

type ProjectHandler struct {
	service ProjectService
}

func NewProjectHandler(service ProjectService) (*ProjectHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("project service is required")
	}
	return &ProjectHandler{service: service}, nil
}

func RegisterProjectRoutes(router fiber.Router, service ProjectService) error {
	h, err := NewProjectHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/projects", h.RegisterProject)
	v1.Get("/projects", h.ListProjects)
	v1.Delete("/projects/:projectId", h.RemoveProject)

	return nil
}

type registerProjectRequest struct {
	ProjectID       string `json:"projectId"`
	Name            string `json:"name"`
	AccountEmail    string `json:"accountEmail"`
	CredentialsPath string `json:"credentialsPath"`
}

type projectResponse struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	Name            string    `json:"name"`
	AccountEmail    string    `json:"accountEmail,omitempty"`
	CredentialsPath string    `json:"credentialsPath"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

func (h *ProjectHandler) RegisterProject(c *fiber.Ctx) error {
	var req registerProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.Register(c.Context(), domain.Project{
		ProjectID:       req.ProjectID,
		Name:            req.Name,
		AccountEmail:    req.AccountEmail,
		CredentialsPath: req.CredentialsPath,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toProjectResponse(created))
}

func (h *ProjectHandler) ListProjects(c *fiber.Ctx) error {
	projects, err := h.service.List(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]projectResponse, 0, len(projects))
	for i := range projects {
		data = append(data, toProjectResponse(&projects[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *ProjectHandler) RemoveProject(c *fiber.Ctx) error {
	if err := h.service.Remove(c.Context(), projectIDParam(c)); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toProjectResponse(p *domain.Project) projectResponse {
	return projectResponse{
		ID:              p.ID,
		ProjectID:       p.ProjectID,
		Name:            p.Name,
		AccountEmail:    p.AccountEmail,
		CredentialsPath: p.CredentialsPath,
		CreatedAt:       p.CreatedAt,
	}
}
