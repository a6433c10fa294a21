package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists.
	// Stores return it on key conflicts; services resolve it by re-reading.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the owner does not own the resource
	ErrForbidden = errors.New("forbidden")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrValidationFailed indicates generator output failed structural validation
	ErrValidationFailed = errors.New("generated content failed validation")

	// ErrGenerationFailed indicates the content generator errored or timed out.
	// Nothing was persisted; the unit that failed can be retried.
	ErrGenerationFailed = errors.New("content generation failed")

	// ErrGenerationInProgress indicates another instance is generating the same unit
	ErrGenerationInProgress = errors.New("generation already in progress")

	// ErrStaleReference indicates the referenced paragraph is gone or changed
	ErrStaleReference = errors.New("stale reference: refresh and retry")

	// ErrNotGenerated indicates an operation needs generated paragraph content
	ErrNotGenerated = errors.New("paragraph not generated")

	// ErrCacheMiss is a control-flow signal, not a failure
	ErrCacheMiss = errors.New("cache miss")

	// ErrConfirmationRequired indicates a destructive action was not confirmed
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrInvalidProvider indicates an unknown AI provider was specified
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrServiceUnavailable indicates a backing service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError records which part of a generated artifact was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidationFailed.Error(), e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrValidationFailed) hold.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
