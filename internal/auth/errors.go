package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("user already exists")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidSession    = errors.New("invalid session")
	ErrResetTokenInvalid = errors.New("reset token is invalid or expired")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many failed login attempts")
	ErrBlockedSuspicious  = errors.New("login attempt flagged as anomalous")
	ErrDuplicateEmail     = errors.New("email already registered")
)

// Reasons attached to a rejected flow. They appear in logs and metrics, never
// in responses.
const (
	ReasonInvalidFields     = "invalid-fields"
	ReasonInvalidEmail      = "invalid-email"
	ReasonRateLimited       = "rate-limited"
	ReasonBlockedSuspicious = "blocked-suspicious"
	ReasonBadCredentials    = "bad-credentials"
	ReasonDuplicateEmail    = "duplicate-email"
	ReasonInvalidToken      = "invalid-token"
	ReasonDependency        = "dependency"
	ReasonOK                = "ok"
)

// ValidationError names each invalid field with a message fit for display.
type ValidationError struct {
	Message string
	Fields  map[string]string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, ", "))
}

// DependencyError wraps a failure of the credential store or another
// collaborator.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// IsAuthenticationError reports whether err is one of the login rejections
// that share the public "bad credentials" message.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBlockedSuspicious)
}

// Reason maps a flow error to its reason label.
func Reason(err error) string {
	var verr *ValidationError
	var derr *DependencyError
	switch {
	case err == nil:
		return ReasonOK
	case errors.As(err, &verr):
		if verr.Reason != "" {
			return verr.Reason
		}
		return ReasonInvalidFields
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrBlockedSuspicious):
		return ReasonBlockedSuspicious
	case errors.Is(err, ErrInvalidCredentials):
		return ReasonBadCredentials
	case errors.Is(err, ErrDuplicateEmail):
		return ReasonDuplicateEmail
	case errors.As(err, &derr):
		return ReasonDependency
	default:
		return ReasonDependency
	}
}
