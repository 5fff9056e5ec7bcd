// Package backend implements the secret-store backends the retriever fetches
// from, and the categorization of their failures.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/aws/smithy-go"
	"github.com/hashicorp/vault/api"

	secretsDomain "github.com/allisson/secretkeeper/internal/secrets/domain"
)

var (
	transientCodes = map[string]bool{
		"InternalServiceError":          true,
		"InternalServiceErrorException": true,
		"InternalServerError":           true,
		"ThrottlingException":           true,
		"TooManyRequestsException":      true,
		"RequestLimitExceeded":          true,
		"ServiceUnavailable":            true,
	}
	invalidRequestCodes = map[string]bool{
		"InvalidParameterException": true,
		"InvalidRequestException":   true,
		"ValidationException":       true,
		"DecryptionFailure":         true,
	}
	accessDeniedCodes = map[string]bool{
		"AccessDeniedException":       true,
		"UnrecognizedClientException": true,
		"ExpiredTokenException":       true,
	}
	notFoundCodes = map[string]bool{
		"ResourceNotFoundException": true,
		"ParameterNotFound":         true,
		"ParameterVersionNotFound":  true,
	}
)

// Categorize maps a raw backend error to an ErrorKind.
func Categorize(err error) secretsDomain.ErrorKind {
	if err == nil {
		return secretsDomain.KindUnknown
	}

	if kind := secretsDomain.KindOf(err); kind != secretsDomain.KindUnknown {
		return kind
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case transientCodes[code]:
			return secretsDomain.KindTransient
		case invalidRequestCodes[code]:
			return secretsDomain.KindInvalidRequest
		case accessDeniedCodes[code]:
			return secretsDomain.KindAccessDenied
		case notFoundCodes[code]:
			return secretsDomain.KindNotFound
		}
	}

	if errors.Is(err, api.ErrSecretNotFound) {
		return secretsDomain.KindNotFound
	}
	var vaultErr *api.ResponseError
	if errors.As(err, &vaultErr) {
		switch code := vaultErr.StatusCode; {
		case code == http.StatusNotFound:
			return secretsDomain.KindNotFound
		case code == http.StatusForbidden || code == http.StatusUnauthorized:
			return secretsDomain.KindAccessDenied
		case code == http.StatusBadRequest:
			return secretsDomain.KindInvalidRequest
		case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
			return secretsDomain.KindTransient
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return secretsDomain.KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return secretsDomain.KindTransient
	}

	return secretsDomain.KindUnknown
}

// fail wraps err as a categorized BackendError.
func fail(op, name string, err error) error {
	return secretsDomain.NewBackendError(Categorize(err), op, name, err)
}

// notFound reports a missing secret that the backend signalled without an error.
func notFound(op, name string) error {
	return secretsDomain.NewBackendError(secretsDomain.KindNotFound, op, name, nil)
}

// singleValue builds the {name: value} envelope for a backend that stores one
// value per name. The value is kept verbatim, JSON documents included.
func singleValue(name, value string) (secretsDomain.Envelope, error) {
	raw, err := json.Marshal(map[string]string{name: value})
	if err != nil {
		return secretsDomain.Envelope{}, err
	}
	return secretsDomain.Envelope{Raw: raw}, nil
}
