package app

import (
	"errors"
	"fmt"
	"net/http"

	"rangeclaims/api/internal/auth"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindAuthorization   Kind = "authorization"
	KindDependency      Kind = "dependency"
	KindUnauthenticated Kind = "unauthenticated"
	KindRateLimited     Kind = "rate_limited"
)

// Retry hints tell clients what to do with a failure.
const (
	RetryFixInput = "fix_input"
	RetryNever    = "never"
	RetryLater    = "later"
)

var kindTable = map[Kind]struct {
	status int
	code   string
	retry  string
}{
	KindValidation:      {http.StatusUnprocessableEntity, "VALIDATION_ERROR", RetryFixInput},
	KindNotFound:        {http.StatusNotFound, "NOT_FOUND", RetryFixInput},
	KindConflict:        {http.StatusConflict, "CONFLICT", RetryNever},
	KindAuthorization:   {http.StatusForbidden, "FORBIDDEN", RetryNever},
	KindDependency:      {http.StatusServiceUnavailable, "DEPENDENCY_ERROR", RetryLater},
	KindUnauthenticated: {http.StatusUnauthorized, "UNAUTHORIZED", RetryFixInput},
	KindRateLimited:     {http.StatusTooManyRequests, "RATE_LIMITED", RetryLater},
}

type DomainError struct {
	Kind    Kind
	Status  int
	Code    string
	Reason  string
	Message string
	Retry   string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// domainError builds an error of kind. reason is a stable machine-readable
// refinement of the kind's code, e.g. LISTING_ALREADY_CLAIMED.
func domainError(kind Kind, reason, message string, details any) *DomainError {
	row := kindTable[kind]
	return &DomainError{
		Kind:    kind,
		Status:  row.status,
		Code:    row.code,
		Reason:  reason,
		Message: message,
		Retry:   row.retry,
		Details: details,
	}
}

func validationError(reason, message string) *DomainError {
	return domainError(KindValidation, reason, message, nil)
}

func notFoundError(reason, message string) *DomainError {
	return domainError(KindNotFound, reason, message, nil)
}

func conflictError(reason, message string) *DomainError {
	return domainError(KindConflict, reason, message, nil)
}

func forbiddenError(message string) *DomainError {
	return domainError(KindAuthorization, "ROLE_REQUIRED", message, nil)
}

func unauthenticatedError() *DomainError {
	return domainError(KindUnauthenticated, "", "Unauthorized", nil)
}

func dependencyError(reason, message string, err error) *DomainError {
	e := domainError(KindDependency, reason, message, nil)
	e.Err = err
	return e
}

// mapError turns any error into the DomainError written to clients. Unknown
// errors become dependency failures so clients retry later.
func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return unauthenticatedError()
	}
	return dependencyError("", "Server error", err)
}
