package provider

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/kursadbilgin/authbatch/internal/domain"
)

// AuthProvider is the outbound port to the identity platform admin API.
// Implementations are bound to a single project.
type AuthProvider interface {
	CreateUser(ctx context.Context, item domain.WorkItem) (string, error)
	DeleteUser(ctx context.Context, uid string) error
	DeleteUsers(ctx context.Context, uids []string) (*DeleteResult, error)
	SendPasswordResetLink(ctx context.Context, email string) error
	SendEmailVerificationLink(ctx context.Context, email string) error
	ListUsers(ctx context.Context, pageToken string, pageSize int) (*UserPage, error)
	UpdatePasswordResetTemplate(ctx context.Context, tpl ResetTemplate) error
}

// MaxDeleteBatch is the upstream limit for one batch delete call.
const MaxDeleteBatch = 1000

// MaxListPageSize is the upstream limit for one user listing page.
const MaxListPageSize = 1000

// DeleteResult reports a batch delete outcome per uid.
type DeleteResult struct {
	SuccessCount int
	FailureCount int
	Errors       []DeleteError
}

type DeleteError struct {
	Index  int
	UID    string
	Reason string
}

// UserPage is one page of listed users. An empty NextPageToken marks the last page.
type UserPage struct {
	Users         []domain.AuthUser
	NextPageToken string
}

// ResetTemplate customises the password reset email of a project.
type ResetTemplate struct {
	SenderEmail  string `json:"senderEmail"`
	SenderName   string `json:"senderName"`
	ReplyTo      string `json:"replyTo,omitempty"`
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	CustomDomain string `json:"customDomain,omitempty"`
}

func (t ResetTemplate) Validate() error {
	if strings.TrimSpace(t.Subject) == "" {
		return fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: body is required", domain.ErrValidation)
	}
	if strings.TrimSpace(t.SenderName) == "" {
		return fmt.Errorf("%w: senderName is required", domain.ErrValidation)
	}
	if _, err := mail.ParseAddress(t.SenderEmail); err != nil {
		return fmt.Errorf("%w: senderEmail must be a valid email", domain.ErrValidation)
	}
	if t.ReplyTo != "" {
		if _, err := mail.ParseAddress(t.ReplyTo); err != nil {
			return fmt.Errorf("%w: replyTo must be a valid email", domain.ErrValidation)
		}
	}
	return nil
}

// SenderLocalPart is the part of the sender address before '@'.
func (t ResetTemplate) SenderLocalPart() string {
	local, _, _ := strings.Cut(strings.TrimSpace(t.SenderEmail), "@")
	return local
}
