package workflow

import (
	"errors"
	"fmt"
	"manicure/lib/data"
	"manicure/lib/models"
)

// ValidationError rejects an intent whose input is unacceptable. The task is left unchanged.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransitionError rejects an intent that is not available in the task's current status
type TransitionError struct {
	Action Action
	Status models.TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("action %s is not allowed in status %s", e.Action, e.Status)
}

var (
	// ErrNotTaskOwner is returned when a member drives another member's task
	ErrNotTaskOwner = errors.New("task belongs to another member")
	// ErrTaskInProgress is returned when a member starts a task while another one is unfinished
	ErrTaskInProgress = errors.New("member already has an unfinished task")
)

// IsWorkflowReset reports whether the caller lost its task and must start over
func IsWorkflowReset(err error) bool {
	return errors.Is(err, data.ErrTaskNotFound)
}
