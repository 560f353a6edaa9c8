package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

// MinPasswordLength mirrors the upstream minimum for email/password accounts.
const MinPasswordLength = 6

// WorkItem carries the data for exactly one upstream call.
// Password reset uses Email, import uses Email/Password/DisplayName, delete uses UID.
// EmailVerified is only set for accounts created one at a time.
type WorkItem struct {
	Email         string `json:"email,omitempty"`
	UID           string `json:"uid,omitempty"`
	Password      string `json:"password,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
}

// Key identifies the item in logs.
func (w WorkItem) Key() string {
	if w.UID != "" {
		return w.UID
	}
	return w.Email
}

func (w WorkItem) Validate(op Operation) error {
	switch op {
	case OperationPasswordReset:
		if err := validateEmail(w.Email); err != nil {
			return err
		}
	case OperationUserImport:
		if err := validateEmail(w.Email); err != nil {
			return err
		}
		if len(w.Password) < MinPasswordLength {
			return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
		}
	case OperationUserDelete:
		if strings.TrimSpace(w.UID) == "" {
			return fmt.Errorf("%w: uid is required", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: invalid operation %q", ErrValidation, op)
	}
	return nil
}

func validateEmail(email string) error {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	return nil
}

// Chunk is a bounded, ordered slice of a batch's work list processed by one task.
type Chunk struct {
	Index int
	Items []WorkItem
}

// AuthUser is the subset of an upstream user record exposed to callers.
type AuthUser struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	Disabled      bool   `json:"disabled"`
	CreatedAt     int64  `json:"createdAt,omitempty"`
	LastLoginAt   int64  `json:"lastLoginAt,omitempty"`
}
