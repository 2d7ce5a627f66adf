// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request). Rejected before any persistence, never retried.
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidSchedule   = errors.New("invalid schedule")
	ErrInvalidGraph      = errors.New("invalid workflow graph")
	ErrNameRequired      = errors.New("name is required")
	ErrNodesRequired     = errors.New("workflow must have at least one node")
	ErrPromptRequired    = errors.New("job prompt is required")
	ErrInvalidPagination = errors.New("invalid pagination parameters")

	// Not-found errors (404).
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrVersionNotFound  = errors.New("workflow version not found")
	ErrTriggerNotFound  = errors.New("trigger not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrJobNotFound      = errors.New("job not found")

	// Conflict errors (409).
	ErrWorkflowArchived   = errors.New("workflow is archived")
	ErrNotPublished       = errors.New("workflow has no published version")
	ErrCannotModifyFrozen = errors.New("published versions are immutable")
	ErrRunNotPausable     = errors.New("run cannot be paused in its current status")
	ErrRunNotResumable    = errors.New("run cannot be resumed in its current status")
	ErrRunAlreadyTerminal = errors.New("run is already in a terminal status")
	ErrImportConflict     = errors.New("import would overwrite existing data")
)

// ServiceError wraps service-level errors with a stable code, a human
// message and a retryability hint, so callers never see a bare exception.
type ServiceError struct {
	Op        string // Operation name
	Code      string // Stable error code for API responses
	Message   string // Human-readable message
	Retryable bool   // Whether retrying the same call can succeed
	Err       error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrNodesRequired) ||
		errors.Is(err, ErrPromptRequired) ||
		errors.Is(err, ErrInvalidPagination)
}

// IsNotFoundError checks if an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrTriggerNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrJobNotFound)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowArchived) ||
		errors.Is(err, ErrNotPublished) ||
		errors.Is(err, ErrCannotModifyFrozen) ||
		errors.Is(err, ErrRunNotPausable) ||
		errors.Is(err, ErrRunNotResumable) ||
		errors.Is(err, ErrRunAlreadyTerminal) ||
		errors.Is(err, ErrImportConflict)
}

// IsRetryableError reports whether retrying the same operation can succeed.
func IsRetryableError(err error) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Retryable
	}

	return false
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Message: message, Err: err}
}

// NewNotFoundError creates a not-found error with context.
func NewNotFoundError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Message: message, Err: err}
}

// NewTransientError creates an error for failures worth retrying.
func NewTransientError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Message: message, Retryable: true, Err: err}
}
