package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var projectIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)

// Project maps a Firebase project to its stored service-account file.
type Project struct {
	ID              string
	ProjectID       string
	Name            string
	AccountEmail    string
	CredentialsPath string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p *Project) Validate() error {
	if err := ValidateProjectID(p.ProjectID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}

	path := strings.TrimSpace(p.CredentialsPath)
	if path == "" {
		return fmt.Errorf("%w: credentialsPath is required", ErrValidation)
	}
	// Paths are relative to the credentials directory.
	if filepath.IsAbs(path) || strings.HasPrefix(filepath.Clean(path), "..") {
		return fmt.Errorf("%w: credentialsPath must be relative to the credentials directory", ErrValidation)
	}
	return nil
}

// ValidateProjectID checks the Google Cloud project id format.
func ValidateProjectID(projectID string) error {
	if !projectIDPattern.MatchString(projectID) {
		return fmt.Errorf("%w: invalid project id %q", ErrValidation, projectID)
	}
	return nil
}
