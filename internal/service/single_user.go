package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/authbatch/internal/domain"
	"github.com/kursadbilgin/authbatch/internal/provider"
	"go.uber.org/zap"
)

// NewUser is one account created outside of a batch.
type NewUser struct {
	Email            string
	Password         string
	DisplayName      string
	SendVerification bool
}

// CreatedUser reports the outcome of CreateUser. A verification email that
// could not be sent leaves the account in place and sets VerificationError.
type CreatedUser struct {
	UID               string
	Email             string
	EmailVerified     bool
	VerificationSent  bool
	VerificationError string
}

// CreateUser creates one account right away. Accounts that get a
// verification email start unverified; the rest are created verified.
func (s *BatchService) CreateUser(ctx context.Context, projectID string, user NewUser) (*CreatedUser, error) {
	if err := domain.ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	item := domain.WorkItem{
		Email:         strings.TrimSpace(user.Email),
		Password:      user.Password,
		DisplayName:   strings.TrimSpace(user.DisplayName),
		EmailVerified: !user.SendVerification,
	}
	if err := item.Validate(domain.OperationUserImport); err != nil {
		return nil, err
	}

	p, err := s.providerFor(ctx, projectID)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("projectId", projectID))

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	uid, err := s.observeCall(domain.OperationUserImport, func() (string, error) {
		return p.CreateUser(callCtx, item)
	})
	if err != nil {
		if provider.HasCode(err, provider.CodeEmailExists) {
			return nil, fmt.Errorf("%w: %s is already registered: %w", domain.ErrConflict, item.Email, err)
		}
		return nil, err
	}

	created := &CreatedUser{UID: uid, Email: item.Email, EmailVerified: item.EmailVerified}
	logger.Info("user created", zap.String("uid", uid))

	if user.SendVerification {
		if err := p.SendEmailVerificationLink(callCtx, item.Email); err != nil {
			logger.Warn("verification email not sent", zap.String("uid", uid), zap.Error(err))
			created.VerificationError = err.Error()
		} else {
			created.VerificationSent = true
		}
	}
	return created, nil
}

// DeleteUser removes one account right away.
func (s *BatchService) DeleteUser(ctx context.Context, projectID, uid string) error {
	if err := domain.ValidateProjectID(projectID); err != nil {
		return err
	}

	item := domain.WorkItem{UID: strings.TrimSpace(uid)}
	if err := item.Validate(domain.OperationUserDelete); err != nil {
		return err
	}

	p, err := s.providerFor(ctx, projectID)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	_, err = s.observeCall(domain.OperationUserDelete, func() (string, error) {
		return "", p.DeleteUser(callCtx, item.UID)
	})
	if err != nil {
		if provider.HasCode(err, provider.CodeUserNotFound) {
			return fmt.Errorf("%w: user %s: %w", domain.ErrNotFound, item.UID, err)
		}
		return err
	}

	s.logger.Info("user deleted", zap.String("projectId", projectID), zap.String("uid", item.UID))
	return nil
}

func (s *BatchService) observeCall(op domain.Operation, call func() (string, error)) (string, error) {
	start := time.Now()
	out, err := call()
	s.metrics.ObserveProviderCall(op.String(), time.Since(start))
	return out, err
}
