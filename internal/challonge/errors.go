package challonge

import (
	"errors"
	"fmt"
)

// ErrorKind is the error taxonomy surfaced to callers of the core.
type ErrorKind string

const (
	KindTransport    ErrorKind = "transport_error"
	KindRateLimited  ErrorKind = "rate_limited"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindProvider     ErrorKind = "provider_error"
	KindValidation   ErrorKind = "validation_error"
	KindConflict     ErrorKind = "conflict"
)

// APIError carries the classified provider failure. The response body is
// preserved for provider_error so callers can surface it.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("challonge: %s: %v", e.Kind, e.Err)
	case e.Body != "":
		return fmt.Sprintf("challonge: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("challonge: %s (HTTP %d)", e.Kind, e.StatusCode)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsRateLimitStatus reports whether err is a provider 429 or 403. The
// request gate uses this to decide its single retry.
func IsRateLimitStatus(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 429 || apiErr.StatusCode == 403
}

// NewValidationError reports input rejected before any provider call.
func NewValidationError(format string, args ...any) error {
	return &APIError{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// NewConflictError reports a mutation attempted against the wrong
// tournament state.
func NewConflictError(format string, args ...any) error {
	return &APIError{Kind: KindConflict, Err: fmt.Errorf(format, args...)}
}
