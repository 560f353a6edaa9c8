package service

import (
	"context"

	"github.com/kursadbilgin/authbatch/internal/credentials"
	"github.com/kursadbilgin/authbatch/internal/provider"
)

type CredentialResolver interface {
	Resolve(ctx context.Context, projectID string) (*credentials.Credential, error)
}

type ProviderFactory interface {
	ForProject(ctx context.Context, cred credentials.Credential) (provider.AuthProvider, error)
}

// TaskLedger suppresses duplicate deliveries of the same chunk task.
type TaskLedger interface {
	Claim(ctx context.Context, batchID, taskID string) (bool, error)
	Release(ctx context.Context, batchID, taskID string) error
}
