package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/authbatch/internal/domain"
	"github.com/kursadbilgin/authbatch/internal/importer"
	"github.com/kursadbilgin/authbatch/internal/provider"
	"github.com/kursadbilgin/authbatch/internal/repository"
	"github.com/kursadbilgin/authbatch/internal/service"
)

const (
	defaultPage          = 1
	defaultPageSize      = 10
	maxPageSize          = 100
	defaultUsersPageSize = 100
	importFormField      = "file"
)

type BatchService interface {
	StartPasswordReset(ctx context.Context, projectID string, tpl *provider.ResetTemplate) (*domain.Batch, error)
	StartDeleteAll(ctx context.Context, projectID string) (*domain.Batch, error)
	StartImport(ctx context.Context, projectID string, items []domain.WorkItem) (*domain.Batch, error)
	ListUsers(ctx context.Context, projectID, pageToken string, pageSize int) (*provider.UserPage, error)
	CreateUser(ctx context.Context, projectID string, user service.NewUser) (*service.CreatedUser, error)
	DeleteUser(ctx context.Context, projectID, uid string) error
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	ListBatches(ctx context.Context, params repository.ListParams) ([]domain.Batch, int64, error)
	Stop(ctx context.Context, id string) (*domain.Batch, error)
}

type BatchHandler struct {
	service       BatchService
	maxImportRows int
}

func NewBatchHandler(service BatchService, maxImportRows int) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if maxImportRows <= 0 {
		return nil, fmt.Errorf("max import rows must be positive")
	}
	return &BatchHandler{service: service, maxImportRows: maxImportRows}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService, maxImportRows int) error {
	h, err := NewBatchHandler(service, maxImportRows)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/projects/:projectId/batches/password-reset", h.StartPasswordReset)
	v1.Post("/projects/:projectId/batches/delete-all", h.StartDeleteAll)
	v1.Post("/projects/:projectId/batches/import", h.StartImport)
	v1.Get("/projects/:projectId/users", h.ListUsers)
	v1.Post("/projects/:projectId/users", h.CreateUser)
	v1.Delete("/projects/:projectId/users/:uid", h.DeleteUser)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Post("/batches/:id/stop", h.StopBatch)

	return nil
}

type resetTemplateRequest struct {
	SenderEmail  string `json:"senderEmail"`
	SenderName   string `json:"senderName"`
	ReplyTo      string `json:"replyTo"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	CustomDomain string `json:"customDomain"`
}

type passwordResetRequest struct {
	Template *resetTemplateRequest `json:"template"`
}

type importResponse struct {
	Batch   batchResponse       `json:"batch"`
	Skipped []importer.RowError `json:"skipped"`
}

type createUserRequest struct {
	Email                 string `json:"email"`
	Password              string `json:"password"`
	DisplayName           string `json:"displayName"`
	SendEmailVerification bool   `json:"sendEmailVerification"`
}

type createdUserResponse struct {
	UID               string `json:"uid"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"emailVerified"`
	VerificationSent  bool   `json:"verificationSent"`
	VerificationError string `json:"verificationError,omitempty"`
}

type listUsersResponse struct {
	Users         []domain.AuthUser `json:"users"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

func (h *BatchHandler) StartPasswordReset(c *fiber.Ctx) error {
	var req passwordResetRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	var tpl *provider.ResetTemplate
	if req.Template != nil {
		tpl = &provider.ResetTemplate{
			SenderEmail:  strings.TrimSpace(req.Template.SenderEmail),
			SenderName:   strings.TrimSpace(req.Template.SenderName),
			ReplyTo:      strings.TrimSpace(req.Template.ReplyTo),
			Subject:      req.Template.Subject,
			Body:         req.Template.Body,
			CustomDomain: strings.TrimSpace(req.Template.CustomDomain),
		}
	}

	batch, err := h.service.StartPasswordReset(c.Context(), projectIDParam(c), tpl)
	if err != nil {
		return respondStartError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) StartDeleteAll(c *fiber.Ctx) error {
	batch, err := h.service.StartDeleteAll(c.Context(), projectIDParam(c))
	if err != nil {
		return respondStartError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) StartImport(c *fiber.Ctx) error {
	header, err := c.FormFile(importFormField)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field \"file\" is required")
	}

	file, err := header.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "uploaded file is unreadable")
	}
	defer file.Close()

	parsed, err := importer.ParseUsers(file, h.maxImportRows)
	if err != nil {
		return toHTTPError(err)
	}

	batch, err := h.service.StartImport(c.Context(), projectIDParam(c), parsed.Items)
	if err != nil {
		return respondStartError(c, err)
	}

	skipped := parsed.Skipped
	if skipped == nil {
		skipped = []importer.RowError{}
	}
	return c.Status(fiber.StatusAccepted).JSON(importResponse{
		Batch:   toBatchResponse(batch),
		Skipped: skipped,
	})
}

func (h *BatchHandler) ListUsers(c *fiber.Ctx) error {
	pageSize := c.QueryInt("pageSize", defaultUsersPageSize)
	if pageSize < 1 || pageSize > provider.MaxListPageSize {
		return toHTTPError(fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, provider.MaxListPageSize))
	}

	page, err := h.service.ListUsers(c.Context(), projectIDParam(c), strings.TrimSpace(c.Query("pageToken")), pageSize)
	if err != nil {
		return toHTTPError(err)
	}

	users := page.Users
	if users == nil {
		users = []domain.AuthUser{}
	}

	return c.Status(fiber.StatusOK).JSON(listUsersResponse{
		Users:         users,
		NextPageToken: page.NextPageToken,
	})
}

func (h *BatchHandler) CreateUser(c *fiber.Ctx) error {
	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.CreateUser(c.Context(), projectIDParam(c), service.NewUser{
		Email:            req.Email,
		Password:         req.Password,
		DisplayName:      req.DisplayName,
		SendVerification: req.SendEmailVerification,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(createdUserResponse{
		UID:               created.UID,
		Email:             created.Email,
		EmailVerified:     created.EmailVerified,
		VerificationSent:  created.VerificationSent,
		VerificationError: created.VerificationError,
	})
}

func (h *BatchHandler) DeleteUser(c *fiber.Ctx) error {
	if err := h.service.DeleteUser(c.Context(), projectIDParam(c), strings.TrimSpace(c.Params("uid"))); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.service.GetBatch(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	batches, total, err := h.service.ListBatches(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{
		Data: toBatchResponses(batches),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *BatchHandler) StopBatch(c *fiber.Ctx) error {
	batch, err := h.service.Stop(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status := domain.BatchStatus(strings.ToLower(rawStatus))
		if !status.IsValid() {
			return repository.ListParams{}, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, rawStatus)
		}
		params.Status = &status
	}

	if projectID := strings.TrimSpace(c.Query("projectId")); projectID != "" {
		if err := domain.ValidateProjectID(projectID); err != nil {
			return repository.ListParams{}, err
		}
		params.ProjectID = &projectID
	}

	return params, nil
}

func projectIDParam(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("projectId"))
}
