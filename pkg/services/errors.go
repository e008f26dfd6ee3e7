package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task does not exist
	ErrNotFound = errors.New("task not found")

	// ErrForbidden is returned when a task belongs to a different user
	ErrForbidden = errors.New("task belongs to a different user")

	// ErrInvalidState is returned when the task status does not allow the operation
	ErrInvalidState = errors.New("operation not allowed in current task state")

	// ErrQuotaExceeded is returned when the user's daily task quota is exhausted
	ErrQuotaExceeded = errors.New("daily task quota exceeded")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
