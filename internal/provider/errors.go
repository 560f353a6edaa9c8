package provider

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
)

// Upstream reason codes callers act on.
const (
	CodeEmailExists  = "EMAIL_EXISTS"
	CodeUserNotFound = "USER_NOT_FOUND"
)

// ProviderError is an identity platform failure. Transient errors are worth
// another attempt on a later task; everything else is final for the item.
type ProviderError struct {
	// Op names the SDK call, e.g. "delete user". Empty for REST calls.
	Op string
	// Code is the upstream reason such as EMAIL_EXISTS, when one was sent.
	Code       string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("auth provider")
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	if e.StatusCode > 0 {
		b.WriteString(" (" + strconv.Itoa(e.StatusCode) + ")")
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": " + msg)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// reasonCode extracts the leading reason token of an identity toolkit error
// message, which looks like "EMAIL_NOT_FOUND" or "INVALID_EMAIL : details".
func reasonCode(message string) string {
	token, _, _ := strings.Cut(strings.TrimSpace(message), " ")
	token = strings.TrimSuffix(token, ":")
	if token == "" || strings.ToUpper(token) != token {
		return ""
	}
	return token
}

// HasCode reports whether err carries the upstream reason code.
func HasCode(err error, code string) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.Code == code
}

// IsTransient reports whether a failed call may succeed if repeated.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
