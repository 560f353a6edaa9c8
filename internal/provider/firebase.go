package provider

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/errorutils"
	"github.com/kursadbilgin/authbatch/internal/credentials"
	"github.com/kursadbilgin/authbatch/internal/domain"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var identityToolkitScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/identitytoolkit",
}

// userAdmin is the slice of *auth.Client the provider needs.
type userAdmin interface {
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
	DeleteUsers(ctx context.Context, uids []string) (*auth.DeleteUsersResult, error)
}

type listPageFunc func(ctx context.Context, pageToken string, pageSize int) ([]*auth.ExportedUserRecord, string, error)

// oobSender is the slice of the REST client the provider needs.
type oobSender interface {
	SendPasswordResetEmail(ctx context.Context, email string) error
	SendVerificationEmail(ctx context.Context, email string) error
	UpdatePasswordResetTemplate(ctx context.Context, tpl ResetTemplate) error
}

var _ AuthProvider = (*FirebaseProvider)(nil)

// FirebaseProvider serves one project through the Admin SDK and the
// Identity Toolkit REST API.
type FirebaseProvider struct {
	users    userAdmin
	listPage listPageFunc
	oob      oobSender
}

// NewFirebaseProvider builds a provider for the credential's project.
func NewFirebaseProvider(ctx context.Context, cred credentials.Credential, identityToolkitURL string) (*FirebaseProvider, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cred.ProjectID}, option.WithCredentialsJSON(cred.JSON))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise firebase auth: %w", err)
	}

	gcreds, err := google.CredentialsFromJSON(ctx, cred.JSON, identityToolkitScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account: %w", err)
	}

	oob, err := NewIdentityToolkitClient(ctx, identityToolkitURL, cred.ProjectID, gcreds.TokenSource)
	if err != nil {
		return nil, err
	}

	return newFirebaseProvider(client, sdkListPage(client), oob), nil
}

func newFirebaseProvider(users userAdmin, listPage listPageFunc, oob oobSender) *FirebaseProvider {
	return &FirebaseProvider{users: users, listPage: listPage, oob: oob}
}

func sdkListPage(client *auth.Client) listPageFunc {
	return func(ctx context.Context, pageToken string, pageSize int) ([]*auth.ExportedUserRecord, string, error) {
		pager := iterator.NewPager(client.Users(ctx, ""), pageSize, pageToken)

		var records []*auth.ExportedUserRecord
		next, err := pager.NextPage(&records)
		if err != nil {
			return nil, "", err
		}
		return records, next, nil
	}
}

// CreateUser creates an enabled email/password account. Duplicate emails
// surface as permanent errors.
func (p *FirebaseProvider) CreateUser(ctx context.Context, item domain.WorkItem) (string, error) {
	params := (&auth.UserToCreate{}).
		Email(item.Email).
		Password(item.Password).
		EmailVerified(item.EmailVerified).
		Disabled(false)
	if item.DisplayName != "" {
		params = params.DisplayName(item.DisplayName)
	}

	record, err := p.users.CreateUser(ctx, params)
	if err != nil {
		return "", wrapSDKError("create user", err)
	}
	return record.UID, nil
}

func (p *FirebaseProvider) DeleteUser(ctx context.Context, uid string) error {
	if err := p.users.DeleteUser(ctx, uid); err != nil {
		return wrapSDKError("delete user", err)
	}
	return nil
}

// DeleteUsers force-deletes up to MaxDeleteBatch accounts in one call.
func (p *FirebaseProvider) DeleteUsers(ctx context.Context, uids []string) (*DeleteResult, error) {
	if len(uids) > MaxDeleteBatch {
		return nil, fmt.Errorf("%w: at most %d uids per delete call, got %d", domain.ErrValidation, MaxDeleteBatch, len(uids))
	}

	result, err := p.users.DeleteUsers(ctx, uids)
	if err != nil {
		return nil, wrapSDKError("delete users", err)
	}

	out := &DeleteResult{
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
		Errors:       make([]DeleteError, 0, len(result.Errors)),
	}
	for _, info := range result.Errors {
		if info == nil {
			continue
		}
		de := DeleteError{Index: info.Index, Reason: info.Reason}
		if info.Index >= 0 && info.Index < len(uids) {
			de.UID = uids[info.Index]
		}
		out.Errors = append(out.Errors, de)
	}
	return out, nil
}

func (p *FirebaseProvider) SendPasswordResetLink(ctx context.Context, email string) error {
	return p.oob.SendPasswordResetEmail(ctx, email)
}

func (p *FirebaseProvider) SendEmailVerificationLink(ctx context.Context, email string) error {
	return p.oob.SendVerificationEmail(ctx, email)
}

func (p *FirebaseProvider) ListUsers(ctx context.Context, pageToken string, pageSize int) (*UserPage, error) {
	if pageSize < 1 || pageSize > MaxListPageSize {
		pageSize = MaxListPageSize
	}

	records, next, err := p.listPage(ctx, pageToken, pageSize)
	if err != nil {
		return nil, wrapSDKError("list users", err)
	}

	page := &UserPage{
		Users:         make([]domain.AuthUser, 0, len(records)),
		NextPageToken: next,
	}
	for _, record := range records {
		if record == nil || record.UserRecord == nil {
			continue
		}
		page.Users = append(page.Users, toAuthUser(record.UserRecord))
	}
	return page, nil
}

func (p *FirebaseProvider) UpdatePasswordResetTemplate(ctx context.Context, tpl ResetTemplate) error {
	return p.oob.UpdatePasswordResetTemplate(ctx, tpl)
}

func toAuthUser(record *auth.UserRecord) domain.AuthUser {
	user := domain.AuthUser{
		UID:           record.UID,
		Email:         record.Email,
		DisplayName:   record.DisplayName,
		EmailVerified: record.EmailVerified,
		Disabled:      record.Disabled,
	}
	if record.UserMetadata != nil {
		user.CreatedAt = record.UserMetadata.CreationTimestamp
		user.LastLoginAt = record.UserMetadata.LastLogInTimestamp
	}
	return user
}

func wrapSDKError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	transient := errorutils.IsUnavailable(err) ||
		errorutils.IsInternal(err) ||
		errorutils.IsDeadlineExceeded(err) ||
		errorutils.IsResourceExhausted(err)

	statusCode := 0
	if resp := errorutils.HTTPResponse(err); resp != nil {
		statusCode = resp.StatusCode
	}

	var code string
	switch {
	case auth.IsEmailAlreadyExists(err):
		code = CodeEmailExists
	case auth.IsUserNotFound(err):
		code = CodeUserNotFound
	}

	return &ProviderError{
		Op:         op,
		Code:       code,
		StatusCode: statusCode,
		Transient:  transient,
		Cause:      err,
	}
}
