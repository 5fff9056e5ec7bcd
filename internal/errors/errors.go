// Package errors holds the failure taxonomy shared by the secret retriever,
// the caches, the key ring and the CLI. Components wrap one of the sentinels
// below so callers can branch on the kind of failure with Is.
package errors

import (
	"errors"
	"fmt"
)

// Failure kinds.
var (
	// ErrNotFound indicates the requested secret, key or backup does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the operation clashes with current state, such as
	// starting a loop twice.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates a malformed request or configuration.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates missing or rejected credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the credentials are valid but lack access.
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable indicates a dependency is temporarily unusable (open breaker,
	// exhausted retries, unreachable cache). Callers may try again later.
	ErrUnavailable = errors.New("unavailable")
)

// kinds is ordered by exit code.
var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrNotFound, "not_found"},
	{ErrConflict, "conflict"},
	{ErrUnauthorized, "unauthorized"},
	{ErrForbidden, "forbidden"},
	{ErrUnavailable, "unavailable"},
}

// Kind names the first failure kind found in err's tree, "unknown" when err
// wraps none of them and "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}

// ExitCode maps err to a process exit status: 0 for nil, 2 through 7 for the
// failure kinds in declaration order of kinds, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	for i, k := range kinds {
		if errors.Is(err, k.err) {
			return i + 2
		}
	}
	return 1
}

func New(message string) error {
	return errors.New(message)
}

// Wrap prefixes err with message, keeping it matchable with Is. Nil stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join combines errs, discarding nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
