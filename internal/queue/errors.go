package queue

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for operations against an unknown or
// already-deleted job.
var ErrNotFound = errors.New("job not found")

// ValidationError rejects a malformed or unsupported submission.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + e.Reason
}

// InvalidTransitionError rejects a lifecycle operation that would move a
// job along an edge the state machine does not allow.
type InvalidTransitionError struct {
	JobID string
	From  string
	To    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}
