package domain

import (
	"errors"
	"fmt"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

// Secret retrieval error definitions.
var (
	// ErrMissingSecret indicates the backend has no value for the requested name.
	ErrMissingSecret = apperrors.Wrap(apperrors.ErrNotFound, "secret not found")

	// ErrMaxRetriesExceeded indicates every retry attempt hit a transient failure.
	ErrMaxRetriesExceeded = apperrors.Wrap(apperrors.ErrUnavailable, "max retries exceeded")

	// ErrAccessDenied indicates the backend refused the credentials in use.
	ErrAccessDenied = apperrors.Wrap(apperrors.ErrForbidden, "secret store access denied")

	// ErrInvalidRequest indicates the backend rejected the request as malformed.
	ErrInvalidRequest = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid secret store request")

	// ErrTransient indicates a throttled or temporarily failing backend call.
	ErrTransient = apperrors.Wrap(apperrors.ErrUnavailable, "secret store temporarily unavailable")

	// ErrBackend indicates a backend failure that could not be categorized.
	ErrBackend = apperrors.New("secret store error")
)

// ErrorKind categorizes backend failures. Only KindTransient is retried.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindAccessDenied
	KindTransient
	KindInvalidRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindTransient:
		return "transient"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Sentinel returns the error sentinel matching the kind.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindNotFound:
		return ErrMissingSecret
	case KindAccessDenied:
		return ErrAccessDenied
	case KindTransient:
		return ErrTransient
	case KindInvalidRequest:
		return ErrInvalidRequest
	default:
		return ErrBackend
	}
}

// BackendError is a categorized failure from a secret-store backend.
type BackendError struct {
	Kind ErrorKind
	// Op is the backend operation, e.g. "GetSecretValue".
	Op string
	// Name is the secret being fetched.
	Name string
	Err  error
}

// NewBackendError builds a BackendError.
func NewBackendError(kind ErrorKind, op, name string, err error) *BackendError {
	return &BackendError{Kind: kind, Op: op, Name: name, Err: err}
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Name, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Name, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *BackendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.Sentinel()}
	}
	return []error{e.Kind.Sentinel(), e.Err}
}

// KindOf returns the kind of the first BackendError in err's tree, or
// KindUnknown when there is none.
func KindOf(err error) ErrorKind {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Kind
	}
	return KindUnknown
}
