package tasks

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no task exists with the given ID.
	ErrNotFound = errors.New("task not found")

	// ErrNotWaiting indicates a resume was attempted on a task that is not
	// in waiting_for_response. A lost resume race also surfaces as this.
	ErrNotWaiting = errors.New("task is not waiting for a response")

	// ErrNotFailed indicates a retry was attempted on a task that is not failed.
	ErrNotFailed = errors.New("task is not in failed state")

	// ErrRetryExhausted indicates the task has used its full retry budget.
	ErrRetryExhausted = errors.New("task retry budget exhausted")

	// ErrInvalidTransition is matched by InvalidTransitionError via errors.Is.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrVersionConflict indicates a stale write was rejected by the store.
	ErrVersionConflict = errors.New("task version conflict")
)

// ValidationError reports a bad enum value or missing required field on create.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("validation: missing required field %q", e.Field)
	}
	return fmt.Sprintf("validation: invalid %s %q", e.Field, e.Value)
}

// InvalidTransitionError reports an illegal status change.
type InvalidTransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot transition from %s to %s", e.TaskID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
