// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates no workflow version matched the identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrDraftNotFound indicates no mutable draft exists for the workflow id.
	ErrDraftNotFound = errors.New("draft version not found")

	// ErrPublishedNotFound indicates no published version exists for the workflow id.
	ErrPublishedNotFound = errors.New("published version not found")

	// ErrTriggerNotFound indicates a trigger row was not found.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrRunNotFound indicates a workflow run was not found.
	ErrRunNotFound = errors.New("run not found")

	// ErrJobNotFound indicates a job was not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrAlreadyExists indicates an insert collided with an existing identifier.
	ErrAlreadyExists = errors.New("entity already exists")
)

// StoreError wraps persistence errors with operation context.
type StoreError struct {
	Op     string // Operation being performed (e.g. "Save", "ClaimDue")
	Entity string // Entity kind (e.g. "job", "trigger")
	ID     string // Entity identifier if applicable
	Err    error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
