package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kursadbilgin/authbatch/internal/domain"
	"go.uber.org/zap"
)

const serviceAccountType = "service_account"

// Credential is a service account usable against one project.
type Credential struct {
	ProjectID   string
	ClientEmail string
	JSON        []byte
}

type serviceAccountFile struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// ProjectLookup finds the registry entry of a project.
type ProjectLookup interface {
	GetByProjectID(ctx context.Context, projectID string) (*domain.Project, error)
}

// FileResolver loads service accounts stored under a credentials directory.
type FileResolver struct {
	projects ProjectLookup
	dir      string
	logger   *zap.Logger
	readFile func(name string) ([]byte, error)
}

func NewFileResolver(projects ProjectLookup, dir string, logger *zap.Logger) (*FileResolver, error) {
	if projects == nil {
		return nil, fmt.Errorf("project lookup is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("credentials directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FileResolver{
		projects: projects,
		dir:      dir,
		logger:   logger,
		readFile: os.ReadFile,
	}, nil
}

// Resolve returns the credential of a project or ErrCredentialsNotFound
// when the project is unknown or its stored file is missing or unusable.
func (r *FileResolver) Resolve(ctx context.Context, projectID string) (*Credential, error) {
	project, err := r.projects.GetByProjectID(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: project %q is not registered", domain.ErrCredentialsNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up project %q: %w", projectID, err)
	}

	path := filepath.Join(r.dir, filepath.Clean(project.CredentialsPath))
	raw, err := r.readFile(path)
	if err != nil {
		r.logger.Warn("service account file unreadable",
			zap.String("projectId", projectID),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: project %q", domain.ErrCredentialsNotFound, projectID)
	}

	var sa serviceAccountFile
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("%w: project %q: malformed service account: %v", domain.ErrCredentialsNotFound, projectID, err)
	}
	if sa.Type != serviceAccountType || sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("%w: project %q: incomplete service account", domain.ErrCredentialsNotFound, projectID)
	}

	return &Credential{
		ProjectID:   project.ProjectID,
		ClientEmail: sa.ClientEmail,
		JSON:        raw,
	}, nil
}
