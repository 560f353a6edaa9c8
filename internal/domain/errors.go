package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrCredentialsNotFound means no usable service account exists for a project.
	ErrCredentialsNotFound = errors.New("credentials not found")
)
