package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/authbatch/internal/domain"
	"github.com/kursadbilgin/authbatch/internal/provider"
	"github.com/kursadbilgin/authbatch/internal/service"
)

type batchResponse struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	Operation    string    `json:"operation"`
	Status       string    `json:"status"`
	TotalItems   int       `json:"totalItems"`
	SentCount    int       `json:"sentCount"`
	FailedCount  int       `json:"failedCount"`
	Remaining    int       `json:"remaining"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type listBatchesResponse struct {
	Data []batchResponse `json:"data"`
	Meta listMeta        `json:"meta"`
}

type errorResponse struct {
	Error string         `json:"error"`
	Batch *batchResponse `json:"batch,omitempty"`
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	return batchResponse{
		ID:           b.ID,
		ProjectID:    b.ProjectID,
		Operation:    b.Operation.String(),
		Status:       b.Status.String(),
		TotalItems:   b.TotalItems,
		SentCount:    b.SentCount,
		FailedCount:  b.FailedCount,
		Remaining:    b.Remaining(),
		ErrorMessage: b.ErrorMessage,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func toBatchResponses(batches []domain.Batch) []batchResponse {
	responses := make([]batchResponse, 0, len(batches))
	for i := range batches {
		responses = append(responses, toBatchResponse(&batches[i]))
	}
	return responses
}

func statusForError(err error) int {
	var providerErr *provider.ProviderError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrCredentialsNotFound):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.As(err, &providerErr):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func toHTTPError(err error) error {
	code := statusForError(err)
	if code == fiber.StatusInternalServerError {
		return err
	}
	return fiber.NewError(code, err.Error())
}

// respondStartError reports a batch that was recorded but not dispatched in
// full, so callers can still follow it by id.
func respondStartError(c *fiber.Ctx, err error) error {
	var startErr *service.StartError
	if !errors.As(err, &startErr) || startErr.Batch == nil {
		return toHTTPError(err)
	}

	batch := toBatchResponse(startErr.Batch)
	return c.Status(statusForError(err)).JSON(errorResponse{
		Error: err.Error(),
		Batch: &batch,
	})
}
