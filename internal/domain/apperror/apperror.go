// Package apperror defines the error taxonomy shared by the perioperative domain packages.
package apperror

import (
	"errors"
	"fmt"
)

// Machine-readable reason codes returned to API callers
const (
	CodeValidation = "validation_failed"
	CodeConflict   = "state_conflict"
	CodeNotFound   = "not_found"
	CodeForbidden  = "forbidden"
	CodeInternal   = "internal_error"
)

var (
	// ErrConflict indicates the target already left the state the caller expected.
	ErrConflict = errors.New("state already transitioned")
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor's role may not perform the operation.
	ErrForbidden = errors.New("actor role not authorized")
)

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Code: CodeValidation, Message: message}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Code maps err onto its machine-readable reason.
func Code(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		if ve.Code != "" {
			return ve.Code
		}
		return CodeValidation
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternal
	}
}
