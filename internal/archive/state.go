package archive

import "fmt"

var validTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress},
	TaskStatusInProgress: {TaskStatusSucceeded, TaskStatusFailed},
	TaskStatusSucceeded:  {},
	TaskStatusFailed:     {},
}

// ValidateTransition checks if a task status transition is allowed.
func ValidateTransition(from, to TaskStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source status %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether no further transitions leave status.
func IsTerminal(status TaskStatus) bool {
	return status == TaskStatusSucceeded || status == TaskStatusFailed
}
